// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/strata-fs/strata/lib/provider"
)

// Actions served for handles by the owning process.
const (
	ActionStreamRead  = "stream.read"
	ActionStreamWrite = "stream.write"
	ActionStreamSeek  = "stream.seek"
	ActionStreamSize  = "stream.size"
	ActionStreamClose = "stream.close"
	ActionWatchNext   = "watch.next"
	ActionWatchClose  = "watch.close"
)

// MaxChunk bounds the bytes moved by one stream.read or stream.write.
// It stays well below the socket server's request size limit.
const MaxChunk = 256 * 1024

// Chunk is the result of stream.read. EOF is set once the stream is
// exhausted; Data may be non-empty in the same chunk.
type Chunk struct {
	Data []byte `cbor:"data"`
	EOF  bool   `cbor:"eof"`
}

// StreamProxy is a provider.ByteStream whose bytes live in another
// process. Each method is one round trip.
type StreamProxy struct {
	invoker Invoker
	handle  string
	closed  atomic.Bool
	eof     atomic.Bool
}

// NewStreamProxy returns a proxy for the stream handle served through
// invoker.
func NewStreamProxy(invoker Invoker, handle string) *StreamProxy {
	return &StreamProxy{invoker: invoker, handle: handle}
}

// Handle returns the owner-side handle name.
func (s *StreamProxy) Handle() string { return s.handle }

func (s *StreamProxy) closedError(op string) error {
	return &provider.Error{Op: op, Path: s.handle, Kind: provider.KindClosed, Err: provider.ErrClosed}
}

func (s *StreamProxy) Read(buffer []byte) (int, error) {
	if s.closed.Load() {
		return 0, s.closedError("read")
	}
	if len(buffer) == 0 {
		return 0, nil
	}
	if s.eof.Load() {
		return 0, io.EOF
	}
	size := min(len(buffer), MaxChunk)
	chunk, err := Call[Chunk](context.Background(), s.invoker, ActionStreamRead, map[string]any{
		"handle": s.handle,
		"size":   size,
	})
	if err != nil {
		return 0, err
	}
	count := copy(buffer, chunk.Data)
	if chunk.EOF {
		s.eof.Store(true)
		if count == 0 {
			return 0, io.EOF
		}
	}
	return count, nil
}

func (s *StreamProxy) Write(data []byte) (int, error) {
	if s.closed.Load() {
		return 0, s.closedError("write")
	}
	written := 0
	for written < len(data) {
		chunk := data[written:min(len(data), written+MaxChunk)]
		count, err := Call[int](context.Background(), s.invoker, ActionStreamWrite, map[string]any{
			"handle": s.handle,
			"data":   chunk,
		})
		written += count
		if err != nil {
			return written, err
		}
		if count < len(chunk) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Close releases the owner-side stream. Closing a stream the owner
// already closed succeeds, as does closing twice.
func (s *StreamProxy) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	_, err := Call[struct{}](context.Background(), s.invoker, ActionStreamClose, map[string]any{"handle": s.handle})
	if errors.Is(err, provider.ErrClosed) {
		return nil
	}
	return err
}

// ChannelProxy is a StreamProxy over a seekable channel.
type ChannelProxy struct {
	*StreamProxy
}

// NewChannelProxy returns a proxy for the channel handle served through
// invoker.
func NewChannelProxy(invoker Invoker, handle string) *ChannelProxy {
	return &ChannelProxy{StreamProxy: NewStreamProxy(invoker, handle)}
}

func (c *ChannelProxy) Seek(offset int64, whence int) (int64, error) {
	if c.closed.Load() {
		return 0, c.closedError("seek")
	}
	position, err := Call[int64](context.Background(), c.invoker, ActionStreamSeek, map[string]any{
		"handle": c.handle,
		"offset": offset,
		"whence": whence,
	})
	if err != nil {
		return 0, err
	}
	c.eof.Store(false)
	return position, nil
}

func (c *ChannelProxy) Size() (int64, error) {
	if c.closed.Load() {
		return 0, c.closedError("size")
	}
	return Call[int64](context.Background(), c.invoker, ActionStreamSize, map[string]any{"handle": c.handle})
}

// WatcherProxy is a provider.Watcher whose watch lives in another
// process. The owner bounds each watch.next and answers with no events
// when nothing happened; Next keeps asking until something does.
type WatcherProxy struct {
	invoker Invoker
	handle  string
	closed  atomic.Bool
}

// NewWatcherProxy returns a proxy for the watch handle served through
// invoker.
func NewWatcherProxy(invoker Invoker, handle string) *WatcherProxy {
	return &WatcherProxy{invoker: invoker, handle: handle}
}

// Handle returns the owner-side handle name.
func (w *WatcherProxy) Handle() string { return w.handle }

func (w *WatcherProxy) Next(ctx context.Context) ([]provider.ChangeEvent, error) {
	for {
		if w.closed.Load() {
			return nil, &provider.Error{Op: "watch", Path: w.handle, Kind: provider.KindClosed, Err: provider.ErrClosed}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := Call[[]provider.ChangeEvent](ctx, w.invoker, ActionWatchNext, map[string]any{"handle": w.handle})
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}
	}
}

// Close releases the owner-side watch. Closing a watch the owner
// already closed succeeds.
func (w *WatcherProxy) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	_, err := Call[struct{}](context.Background(), w.invoker, ActionWatchClose, map[string]any{"handle": w.handle})
	if errors.Is(err, provider.ErrClosed) {
		return nil
	}
	return err
}
