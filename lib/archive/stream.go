// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/strata-fs/strata/lib/provider"
)

// memberOpener opens the decompressed content of one member from the
// start.
type memberOpener func(ctx context.Context) (io.ReadCloser, error)

// memberChannel is a read-only provider.Channel over one archive
// member. Archive formats are not randomly accessible, so seeking
// backwards reopens the member and skips forward.
type memberChannel struct {
	mu       sync.Mutex
	open     memberOpener
	size     int64
	reader   io.ReadCloser
	position int64
	closed   bool
}

func newMemberChannel(ctx context.Context, open memberOpener, size int64) (*memberChannel, error) {
	reader, err := open(ctx)
	if err != nil {
		return nil, err
	}
	return &memberChannel{open: open, size: size, reader: reader}, nil
}

func (c *memberChannel) Read(buffer []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, provider.ErrClosed
	}
	if c.reader == nil {
		reader, err := c.open(context.Background())
		if err != nil {
			return 0, err
		}
		if _, err := io.CopyN(io.Discard, reader, c.position); err != nil && !errors.Is(err, io.EOF) {
			reader.Close()
			return 0, fmt.Errorf("skipping to offset %d: %w", c.position, err)
		}
		c.reader = reader
	}
	count, err := c.reader.Read(buffer)
	c.position += int64(count)
	return count, err
}

func (c *memberChannel) Write([]byte) (int, error) {
	return 0, provider.ErrReadOnly
}

func (c *memberChannel) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, provider.ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.position + offset
	case io.SeekEnd:
		target = c.size + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("seek: negative position %d", target)
	}
	if c.reader != nil && target >= c.position {
		if _, err := io.CopyN(io.Discard, c.reader, target-c.position); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
	} else if c.reader != nil {
		c.reader.Close()
		c.reader = nil
	}
	c.position = target
	return target, nil
}

func (c *memberChannel) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, provider.ErrClosed
	}
	return c.size, nil
}

// Close releases the decompressor. Closing twice is harmless.
func (c *memberChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
