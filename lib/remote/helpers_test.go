// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"archive/tar"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/localfs"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/service"
	"github.com/strata-fs/strata/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// helper is an in-process helper: the local and archive providers
// behind a stub on a socket.
type helper struct {
	t          *testing.T
	socketPath string
	router     *provider.Router
	registry   *archive.Registry
	stub       *Stub
	token      []byte

	cancel context.CancelFunc
	done   chan error
}

func newHelper(t *testing.T, extra ...provider.Provider) *helper {
	t.Helper()
	router, err := provider.NewRouter(localfs.New(localfs.Options{}))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	registry := archive.NewRegistry(router, archive.Options{})
	t.Cleanup(func() { registry.Close() })
	if err := router.Register(archive.NewProvider(registry, router, nil)); err != nil {
		t.Fatalf("registering archive provider: %v", err)
	}
	for _, backend := range extra {
		if err := router.Register(backend); err != nil {
			t.Fatalf("registering %s: %v", backend.Scheme(), err)
		}
	}

	h := &helper{
		t:          t,
		socketPath: filepath.Join(testutil.SocketDir(t), "helper.sock"),
		router:     router,
		registry:   registry,
		stub:       NewStub(router, registry, StubOptions{Logger: testLogger(), LongPoll: 50 * time.Millisecond}),
	}
	h.start()
	t.Cleanup(h.stop)
	return h
}

// start serves the stub on the helper's socket.
func (h *helper) start() {
	h.t.Helper()
	server := service.NewSocketServer(h.socketPath, testLogger())
	if h.token != nil {
		server.RequireToken(h.token)
	}
	h.stub.Register(server)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- server.Serve(ctx) }()
	select {
	case <-server.Ready():
	case err := <-h.done:
		h.t.Fatalf("helper exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("helper did not become ready")
	}
}

// stop shuts the helper down, dropping every link the way a dying
// process does.
func (h *helper) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Error("helper did not stop")
	}
}

// connect returns a connection to the helper and forwarders for the
// local and archive schemes, registered on a caller-side router.
func (h *helper) connect() (*Connection, *provider.Router) {
	h.t.Helper()
	connection := NewConnection(DialAcquirer{SocketPath: h.socketPath, Token: h.token}, ConnectionOptions{Logger: testLogger()})
	h.t.Cleanup(func() { connection.Close() })
	router, err := provider.NewRouter(
		NewForwarder("file", connection, testLogger()),
		NewForwarder("archive", connection, testLogger()),
	)
	if err != nil {
		h.t.Fatalf("NewRouter: %v", err)
	}
	return connection, router
}

type tarMember struct {
	name    string
	content string
}

func writeTar(t *testing.T, path string, members ...tarMember) {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, member := range members {
		header := &tar.Header{
			Name:     member.name,
			Mode:     0o644,
			Size:     int64(len(member.content)),
			ModTime:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Typeflag: tar.TypeReg,
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := writer.Write([]byte(member.content)); err != nil {
			t.Fatalf("writing tar member: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// eventually polls condition until it holds or the deadline passes.
func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
