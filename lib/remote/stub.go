// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/clock"
	"github.com/strata-fs/strata/lib/codec"
	"github.com/strata-fs/strata/lib/metrics"
	"github.com/strata-fs/strata/lib/parcel"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/service"
)

// DefaultLongPoll bounds one watch.next or task.wait on the helper. It
// must stay below the client's response timeout.
const DefaultLongPoll = 10 * time.Second

// StubOptions configures a Stub. The zero value is usable.
type StubOptions struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	LongPoll time.Duration
}

// Stub serves a provider.Router to forwarding callers. Handles it opens
// on behalf of a session live until the caller closes them or the
// session's link drops.
type Stub struct {
	router   *provider.Router
	registry *archive.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	longPoll time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	linked   int
	idle     chan struct{}
	idleOnce sync.Once
}

type session struct {
	handles map[string]handle
	links   int
}

// handle is something a session holds open on the helper.
type handle interface {
	release() error
}

// NewStub returns a stub serving router. registry backs the
// filesystem.* actions and may be nil when no archive provider is
// registered.
func NewStub(router *provider.Router, registry *archive.Registry, options StubOptions) *Stub {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.LongPoll <= 0 {
		options.LongPoll = DefaultLongPoll
	}
	return &Stub{
		router:   router,
		registry: registry,
		logger:   options.Logger,
		metrics:  options.Metrics,
		clock:    options.Clock,
		longPoll: options.LongPoll,
		sessions: make(map[string]*session),
		idle:     make(chan struct{}),
	}
}

// Idle returns a channel closed the first time the number of linked
// sessions drops back to zero. Spawned helpers exit on it.
func (s *Stub) Idle() <-chan struct{} {
	return s.idle
}

// Register installs every action on server.
func (s *Stub) Register(server *service.SocketServer) {
	s.registerProvider(server)

	s.route(server, ActionFileSystemOpen, s.openFileSystem)
	s.route(server, ActionFileSystemClose, s.closeHandle)
	s.route(server, ActionFileSystemRefresh, s.refreshFileSystem)
	s.route(server, ActionAttributesView, s.attributeView)
	s.routePath(server, ActionAttributesRead, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return backend.ReadAttributes(ctx, r.Path, r.Link)
	})
	s.routePath(server, ActionAttributesWrite, func(ctx context.Context, backend provider.Provider, r *request) (any, error) {
		return nil, backend.WriteAttributes(ctx, r.Path, r.Update)
	})

	s.route(server, parcel.ActionStreamRead, s.streamRead)
	s.route(server, parcel.ActionStreamWrite, s.streamWrite)
	s.route(server, parcel.ActionStreamSeek, s.streamSeek)
	s.route(server, parcel.ActionStreamSize, s.streamSize)
	s.route(server, parcel.ActionStreamClose, s.closeHandle)
	s.route(server, parcel.ActionWatchNext, s.watchNext)
	s.route(server, parcel.ActionWatchClose, s.closeHandle)
	s.route(server, ActionTaskWait, s.taskWait)
	s.route(server, ActionTaskCancel, s.taskCancel)

	server.HandleStream(ActionSessionLink, s.link)
}

// route registers an action whose result and error travel in a
// parcel.Reply.
func (s *Stub) route(server *service.SocketServer, action string, serve func(context.Context, *request) (any, error)) {
	server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
		var r request
		if err := codec.Unmarshal(raw, &r); err != nil {
			if diagnostic, diagErr := codec.Diagnose(raw); diagErr == nil {
				s.logger.Debug("undecodable request", "action", action, "request", diagnostic, "error", err)
			}
			return nil, fmt.Errorf("decoding %s request: %w", action, err)
		}
		result, err := serve(ctx, &r)
		if err != nil {
			s.logger.Debug("forwarded action failed", "action", action, "session", r.Session, "error", err)
		}
		return parcel.Pack[any](result, err)
	})
}

// routePath registers an action that operates on r.Path through the
// provider serving its scheme.
func (s *Stub) routePath(server *service.SocketServer, action string, serve func(context.Context, provider.Provider, *request) (any, error)) {
	s.route(server, action, func(ctx context.Context, r *request) (any, error) {
		backend, err := s.router.For(r.Path)
		if err != nil {
			return nil, err
		}
		return serve(ctx, backend, r)
	})
}

// Close releases every handle of every session.
func (s *Stub) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		errs = append(errs, s.releaseAll(session.handles))
	}
	return errors.Join(errs...)
}

// link serves session.link: it holds the connection until the caller
// goes away, then releases the session's handles.
func (s *Stub) link(ctx context.Context, raw []byte, conn net.Conn) {
	var r request
	if err := codec.Unmarshal(raw, &r); err != nil || r.Session == "" {
		s.logger.Warn("rejecting link without a session", "error", err)
		return
	}

	s.mu.Lock()
	state := s.sessionLocked(r.Session)
	state.links++
	s.linked++
	s.mu.Unlock()
	s.metrics.SessionLinked()
	s.logger.Info("session linked", "session", r.Session)

	// The caller never writes on the link; this returns at EOF.
	io.Copy(io.Discard, conn)

	s.mu.Lock()
	state.links--
	s.linked--
	var released map[string]handle
	if state.links == 0 {
		released = state.handles
		delete(s.sessions, r.Session)
	}
	idle := s.linked == 0
	s.mu.Unlock()
	s.metrics.SessionUnlinked()

	if err := s.releaseAll(released); err != nil {
		s.logger.Warn("releasing session handles", "session", r.Session, "error", err)
	}
	s.logger.Info("session unlinked", "session", r.Session, "released", len(released))
	if idle {
		s.idleOnce.Do(func() { close(s.idle) })
	}
}

func (s *Stub) sessionLocked(id string) *session {
	state, ok := s.sessions[id]
	if !ok {
		state = &session{handles: make(map[string]handle)}
		s.sessions[id] = state
	}
	return state
}

func (s *Stub) releaseAll(handles map[string]handle) error {
	var errs []error
	for _, held := range handles {
		errs = append(errs, held.release())
		s.metrics.HandleClosed()
	}
	return errors.Join(errs...)
}

// addHandle stores held for session and returns its name.
func (s *Stub) addHandle(sessionID string, held handle) string {
	name := uuid.NewString()
	s.mu.Lock()
	s.sessionLocked(sessionID).handles[name] = held
	s.mu.Unlock()
	s.metrics.HandleOpened()
	return name
}

// lookupHandle returns the handle named by r. A handle that was closed,
// or whose session is gone, fails with provider.ErrClosed.
func lookupHandle[H handle](s *Stub, op string, r *request) (H, error) {
	var zero H
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[r.Session]
	if !ok {
		return zero, &provider.Error{Op: op, Path: r.Handle, Kind: provider.KindClosed, Err: provider.ErrClosed}
	}
	held, ok := state.handles[r.Handle]
	if !ok {
		return zero, &provider.Error{Op: op, Path: r.Handle, Kind: provider.KindClosed, Err: provider.ErrClosed}
	}
	typed, ok := held.(H)
	if !ok {
		return zero, &provider.Error{Op: op, Path: r.Handle, Kind: provider.KindUnsupported, Err: fmt.Errorf("handle is a %T", held)}
	}
	return typed, nil
}

// takeHandle removes the handle named by r from its session.
func (s *Stub) takeHandle(r *request) (handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[r.Session]
	if !ok {
		return nil, false
	}
	held, ok := state.handles[r.Handle]
	if ok {
		delete(state.handles, r.Handle)
	}
	return held, ok
}

// closeHandle serves stream.close, watch.close, and filesystem.close.
func (s *Stub) closeHandle(ctx context.Context, r *request) (any, error) {
	held, ok := s.takeHandle(r)
	if !ok {
		return nil, &provider.Error{Op: "close", Path: r.Handle, Kind: provider.KindClosed, Err: provider.ErrClosed}
	}
	s.metrics.HandleClosed()
	return nil, held.release()
}
