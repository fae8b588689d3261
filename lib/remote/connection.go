// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-fs/strata/lib/codec"
	"github.com/strata-fs/strata/lib/metrics"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/service"
)

// Acquirer produces a client for a running helper, starting one if
// needed. An Acquirer that owns a process may also implement io.Closer.
type Acquirer interface {
	Acquire(ctx context.Context) (*service.ServiceClient, error)
}

// DialAcquirer connects to a helper that is already listening.
type DialAcquirer struct {
	SocketPath string
	Token      []byte
}

func (a DialAcquirer) Acquire(ctx context.Context) (*service.ServiceClient, error) {
	return service.NewServiceClient(a.SocketPath, a.Token), nil
}

// ConnectionOptions configures a Connection. The zero value is usable.
type ConnectionOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Connection is the caller's handle on one helper. It acquires the
// helper on first use and again after the helper dies.
type Connection struct {
	acquirer Acquirer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	peer   *Peer
	closed bool
}

// NewConnection returns a connection that acquires helpers through
// acquirer. Nothing is acquired until Get.
func NewConnection(acquirer Acquirer, options ConnectionOptions) *Connection {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Connection{
		acquirer: acquirer,
		logger:   options.Logger,
		metrics:  options.Metrics,
	}
}

// Get returns the live peer, acquiring and linking a new one if there
// is none. Fails with provider.ErrRemoteUnavailable if the helper
// cannot be reached or the link cannot be established.
func (c *Connection) Get(ctx context.Context) (*Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &provider.Error{Op: "connect", Kind: provider.KindClosed, Err: provider.ErrClosed}
	}
	if c.peer != nil {
		select {
		case <-c.peer.done:
			c.peer = nil
		default:
			return c.peer, nil
		}
	}

	client, err := c.acquirer.Acquire(ctx)
	if err != nil {
		return nil, unavailableError("connect", err)
	}
	peer, err := linkPeer(ctx, client, c.metrics)
	if err != nil {
		return nil, unavailableError("connect", err)
	}
	c.peer = peer
	c.metrics.ConnectionAcquired()
	c.logger.Info("helper connected", "socket", client.SocketPath(), "session", peer.session)

	go func() {
		<-peer.Done()
		c.forget(peer)
	}()
	return peer, nil
}

// forget drops peer if it is still the cached one.
func (c *Connection) forget(peer *Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == peer {
		c.peer = nil
		c.logger.Warn("helper connection lost", "session", peer.session)
	}
}

// Close drops the link, which makes the helper release everything this
// connection held. Closing twice is harmless.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peer := c.peer
	c.peer = nil
	c.mu.Unlock()

	if peer != nil {
		peer.shutdown()
	}
	if closer, ok := c.acquirer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Peer is one linked session with a helper. It is a parcel.Invoker for
// the handles opened through it.
type Peer struct {
	client  *service.ServiceClient
	session string
	link    net.Conn
	metrics *metrics.Metrics

	done         chan struct{}
	shutdownOnce sync.Once
}

func linkPeer(ctx context.Context, client *service.ServiceClient, collectors *metrics.Metrics) (*Peer, error) {
	session := uuid.NewString()
	link, err := client.OpenStream(ctx, ActionSessionLink, map[string]any{"session": session})
	if err != nil {
		return nil, err
	}
	peer := &Peer{
		client:  client,
		session: session,
		link:    link,
		metrics: collectors,
		done:    make(chan struct{}),
	}
	go func() {
		// The helper never writes on the link; this returns when the
		// helper process goes away or shutdown closes the link.
		io.Copy(io.Discard, link)
		peer.shutdown()
	}()
	return peer, nil
}

// Done is closed when the helper dies or the peer is shut down.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Session returns the session identifier the helper knows this peer by.
func (p *Peer) Session() string { return p.session }

func (p *Peer) shutdown() {
	p.shutdownOnce.Do(func() {
		p.link.Close()
		close(p.done)
	})
}

// Invoke performs one round trip in this peer's session. A transport
// failure shuts the peer down and is reported as
// provider.ErrRemoteUnavailable; cancellation of ctx is reported as
// itself.
func (p *Peer) Invoke(ctx context.Context, action string, fields map[string]any) (codec.RawMessage, error) {
	select {
	case <-p.done:
		return nil, unavailableError(action, errors.New("helper connection lost"))
	default:
	}

	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["session"] = p.session

	start := time.Now()
	var raw codec.RawMessage
	err := p.client.Call(ctx, action, request, &raw)
	outcome := metrics.OutcomeOK
	defer func() { p.metrics.ObserveForwardedCall(action, outcome, time.Since(start)) }()

	if err == nil {
		return raw, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome = metrics.OutcomeError
		return nil, &provider.Error{Op: action, Kind: provider.KindOf(ctxErr), Err: err}
	}
	var serviceError *service.ServiceError
	if errors.As(err, &serviceError) {
		outcome = metrics.OutcomeError
		return nil, &provider.Error{Op: action, Kind: provider.KindIO, Err: err}
	}
	outcome = metrics.OutcomeUnavailable
	p.shutdown()
	return nil, unavailableError(action, err)
}

func unavailableError(op string, err error) error {
	return &provider.Error{Op: op, Kind: provider.KindRemoteUnavailable, Err: err}
}
