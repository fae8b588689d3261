// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/parcel"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/service"
)

func (s *Stub) registerProvider(server *service.SocketServer) {
	s.route(server, ActionLookup, func(ctx context.Context, r *request) (any, error) {
		_, err := s.router.Lookup(r.Scheme)
		return nil, err
	})
	s.routePath(server, ActionToRealPath, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.ToRealPath(ctx, r.Path)
	})
	s.routePath(server, ActionListChildren, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.ListChildren(ctx, r.Path)
	})
	s.routePath(server, ActionOpenByteStream, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		stream, err := backend.OpenByteStream(ctx, r.Path, r.Mode)
		if err != nil {
			return nil, err
		}
		return s.addHandle(r.Session, &streamHandle{stream: stream}), nil
	})
	s.routePath(server, ActionOpenChannel, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		channel, err := backend.OpenChannel(ctx, r.Path, r.Mode)
		if err != nil {
			return nil, err
		}
		return s.addHandle(r.Session, &streamHandle{stream: channel}), nil
	})
	s.routePath(server, ActionCreateDirectory, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.CreateDirectory(ctx, r.Path, r.Perm)
	})
	s.routePath(server, ActionCreateFile, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.CreateFile(ctx, r.Path, r.Perm)
	})
	s.routePath(server, ActionCreateSymlink, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.CreateSymlink(ctx, r.Path, r.Target)
	})
	s.routePath(server, ActionCreateLink, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.CreateLink(ctx, r.Path, r.Other)
	})
	s.routePath(server, ActionDelete, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.Delete(ctx, r.Path)
	})
	s.route(server, ActionCopy, func(ctx context.Context, r *request) (any, error) {
		return s.startTask(ctx, r, func(taskContext context.Context) error {
			return s.router.Copy(taskContext, r.Path, r.Other, r.Options)
		}), nil
	})
	s.route(server, ActionMove, func(ctx context.Context, r *request) (any, error) {
		return s.startTask(ctx, r, func(taskContext context.Context) error {
			return s.router.Move(taskContext, r.Path, r.Other, r.Options)
		}), nil
	})
	s.routePath(server, ActionReadSymlinkTarget, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.ReadSymlinkTarget(ctx, r.Path)
	})
	s.routePath(server, ActionCheckAccess, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.CheckAccess(ctx, r.Path, r.Access)
	})
	s.routePath(server, ActionReadAttributes, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.ReadAttributes(ctx, r.Path, r.Link)
	})
	s.routePath(server, ActionWriteAttributes, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.WriteAttributes(ctx, r.Path, r.Update)
	})
	s.routePath(server, ActionGetFileStore, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.GetFileStore(ctx, r.Path)
	})
	s.routePath(server, ActionIsSameFile, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.IsSameFile(ctx, r.Path, r.Other)
	})
	s.routePath(server, ActionIsHidden, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.IsHidden(ctx, r.Path)
	})
	s.routePath(server, ActionSearch, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		var results []fspath.Path
		collect := func(batch []fspath.Path) { results = append(results, batch...) }
		if err := backend.Search(ctx, r.Path, r.Query, collect, s.longPoll); err != nil {
			return nil, err
		}
		return results, nil
	})
	s.routePath(server, ActionWatch, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		watcher, err := backend.Watch(ctx, r.Path)
		if err != nil {
			return nil, err
		}
		return s.addHandle(r.Session, &watchHandle{watcher: watcher}), nil
	})
}

type streamHandle struct {
	mu     sync.Mutex
	stream provider.ByteStream
}

func (h *streamHandle) release() error { return h.stream.Close() }

type watchHandle struct {
	mu      sync.Mutex
	watcher provider.Watcher
}

func (h *watchHandle) release() error { return h.watcher.Close() }

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// release cancels a running task. Its goroutine finishes on its own.
func (h *taskHandle) release() error {
	h.cancel()
	return nil
}

type fileSystemHandle struct {
	registry   *archive.Registry
	filesystem *archive.FileSystem
}

func (h *fileSystemHandle) release() error { return h.registry.Release(h.filesystem) }

func (s *Stub) streamRead(ctx context.Context, r *request) (any, error) {
	held, err := lookupHandle[*streamHandle](s, "read", r)
	if err != nil {
		return nil, err
	}
	size := min(max(r.Size, 1), parcel.MaxChunk)
	buffer := make([]byte, size)

	held.mu.Lock()
	defer held.mu.Unlock()
	count, err := io.ReadFull(held.stream, buffer)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return parcel.Chunk{Data: buffer[:count], EOF: true}, nil
	case err != nil:
		return nil, err
	}
	return parcel.Chunk{Data: buffer[:count]}, nil
}

func (s *Stub) streamWrite(ctx context.Context, r *request) (any, error) {
	held, err := lookupHandle[*streamHandle](s, "write", r)
	if err != nil {
		return nil, err
	}
	held.mu.Lock()
	defer held.mu.Unlock()
	return held.stream.Write(r.Data)
}

func (s *Stub) streamSeek(ctx context.Context, r *request) (any, error) {
	held, err := lookupHandle[*streamHandle](s, "seek", r)
	if err != nil {
		return nil, err
	}
	seeker, ok := held.stream.(io.Seeker)
	if !ok {
		return nil, &provider.Error{Op: "seek", Path: r.Handle, Kind: provider.KindUnsupported, Err: provider.ErrUnsupported}
	}
	held.mu.Lock()
	defer held.mu.Unlock()
	return seeker.Seek(r.Offset, r.Whence)
}

func (s *Stub) streamSize(ctx context.Context, r *request) (any, error) {
	held, err := lookupHandle[*streamHandle](s, "size", r)
	if err != nil {
		return nil, err
	}
	channel, ok := held.stream.(provider.Channel)
	if !ok {
		return nil, &provider.Error{Op: "size", Path: r.Handle, Kind: provider.KindUnsupported, Err: provider.ErrUnsupported}
	}
	held.mu.Lock()
	defer held.mu.Unlock()
	return channel.Size()
}

// watchNext waits at most the long-poll bound for events and answers
// with an empty batch if none arrived.
func (s *Stub) watchNext(ctx context.Context, r *request) (any, error) {
	held, err := lookupHandle[*watchHandle](s, "watch", r)
	if err != nil {
		return nil, err
	}
	held.mu.Lock()
	defer held.mu.Unlock()

	pollContext, cancel := context.WithTimeout(ctx, s.longPoll)
	defer cancel()
	events, err := held.watcher.Next(pollContext)
	if err != nil {
		if pollContext.Err() != nil && ctx.Err() == nil {
			return []provider.ChangeEvent{}, nil
		}
		return nil, err
	}
	return events, nil
}

// startTask runs work on its own goroutine under a handle the caller
// waits on with task.wait.
func (s *Stub) startTask(ctx context.Context, r *request, work func(context.Context) error) string {
	taskContext, cancel := context.WithCancel(ctx)
	task := &taskHandle{cancel: cancel, done: make(chan struct{})}
	name := s.addHandle(r.Session, task)
	go func() {
		defer close(task.done)
		defer cancel()
		task.err = work(taskContext)
		if task.err != nil {
			s.logger.Info("task failed", "session", r.Session, "task", name, "error", task.err)
		}
	}()
	return name
}

// taskWait answers once the task finishes or the long-poll bound
// passes. A finished task's handle is released with the answer.
func (s *Stub) taskWait(ctx context.Context, r *request) (any, error) {
	task, err := lookupHandle[*taskHandle](s, "task", r)
	if err != nil {
		return nil, err
	}
	select {
	case <-task.done:
		if _, ok := s.takeHandle(r); ok {
			s.metrics.HandleClosed()
		}
		if task.err != nil {
			return nil, task.err
		}
		return TaskStatus{Done: true}, nil
	case <-s.clock.After(s.longPoll):
		return TaskStatus{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stub) taskCancel(ctx context.Context, r *request) (any, error) {
	task, err := lookupHandle[*taskHandle](s, "task", r)
	if err != nil {
		return nil, err
	}
	task.cancel()
	return nil, nil
}

func (s *Stub) openFileSystem(ctx context.Context, r *request) (any, error) {
	key := r.Path.Key()
	if s.registry == nil || !key.IsArchive() {
		return nil, provider.NewError("open_filesystem", r.Path, provider.ErrUnsupported)
	}
	filesystem, err := s.registry.Open(key)
	if err != nil {
		return nil, err
	}
	return s.addHandle(r.Session, &fileSystemHandle{registry: s.registry, filesystem: filesystem}), nil
}

// refreshFileSystem marks the archive and every archive nested in it
// stale. The next read rebuilds the index.
func (s *Stub) refreshFileSystem(ctx context.Context, r *request) (any, error) {
	key := r.Path.Key()
	if s.registry == nil || !key.IsArchive() {
		return nil, provider.NewError("refresh_archive", r.Path, provider.ErrUnsupported)
	}
	marked := s.registry.MarkStaleTree(key)
	s.logger.Info("archive refreshed", "archive", key.Archive, "marked", marked)
	return marked, nil
}

func (s *Stub) attributeView(ctx context.Context, r *request) (any, error) {
	backend, err := s.router.For(r.Path)
	if err != nil {
		return nil, err
	}
	attributes, err := backend.ReadAttributes(ctx, r.Path, r.Link)
	if err != nil {
		return nil, err
	}
	info := AttributeViewInfo{Name: "basic"}
	if attributes.HasMode && attributes.Owner != nil {
		info.Name = "posix"
	}
	if store, err := backend.GetFileStore(ctx, r.Path); err == nil {
		info.ReadOnly = store.ReadOnly
	}
	return info, nil
}
