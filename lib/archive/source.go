// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"io"
	"sync"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Source opens the backing file of an archive. A *provider.Router is
// the production Source: routing through it lets an archive live on
// any provider, including inside another archive.
type Source interface {
	OpenChannel(ctx context.Context, path fspath.Path) (provider.Channel, error)
}

// readerAt adapts a channel to io.ReaderAt for the zip reader. Channels
// backed by an *os.File already implement ReadAt and are used directly.
func readerAt(channel provider.Channel) io.ReaderAt {
	if direct, ok := channel.(io.ReaderAt); ok {
		return direct
	}
	return &seekingReaderAt{channel: channel}
}

// seekingReaderAt serializes seek-then-read pairs on a channel.
type seekingReaderAt struct {
	mu      sync.Mutex
	channel provider.Channel
}

func (r *seekingReaderAt) ReadAt(buffer []byte, offset int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.channel.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.channel, buffer)
}
