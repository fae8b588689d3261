// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/strata-fs/strata/lib/parcel"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/testutil"
)

// sessionHandles returns the number of handles the stub holds for
// session, and whether the session exists.
func sessionHandles(stub *Stub, session string) (int, bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	state, ok := stub.sessions[session]
	if !ok {
		return 0, false
	}
	return len(state.handles), true
}

func TestConnectionReusesPeer(t *testing.T) {
	h := newHelper(t)
	connection, _ := h.connect()
	ctx := context.Background()

	first, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if first != second {
		t.Error("Get should return the cached peer while it is alive")
	}
	eventually(t, "session link", func() bool {
		_, ok := sessionHandles(h.stub, first.Session())
		return ok
	})
}

func TestReconnectAfterHelperRestart(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"file.txt": "x"})
	h := newHelper(t)
	connection, router := h.connect()
	ctx := context.Background()
	path := remoteFile(filepath.Join(root, "file.txt"))
	backend := backendFor(t, router, path)

	if _, err := backend.ReadAttributes(ctx, path, provider.FollowLinks); err != nil {
		t.Fatalf("ReadAttributes: %v", err)
	}
	before, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	h.stop()
	testutil.RequireClosed(t, before.Done(), 5*time.Second, "peer did not notice the helper going away")

	_, err = backend.ReadAttributes(ctx, path, provider.FollowLinks)
	if !errors.Is(err, provider.ErrRemoteUnavailable) {
		t.Fatalf("call while the helper is down = %v, want ErrRemoteUnavailable", err)
	}

	h.start()
	if _, err := backend.ReadAttributes(ctx, path, provider.FollowLinks); err != nil {
		t.Fatalf("ReadAttributes after restart: %v", err)
	}
	after, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if after.Session() == before.Session() {
		t.Error("reconnecting should start a new session")
	}
}

func TestHandlesDoNotSurviveHelperRestart(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"file.txt": "content"})
	h := newHelper(t)
	_, router := h.connect()
	path := remoteFile(filepath.Join(root, "file.txt"))

	stream, err := backendFor(t, router, path).OpenByteStream(context.Background(), path, provider.OpenRead)
	if err != nil {
		t.Fatalf("OpenByteStream: %v", err)
	}
	h.stop()
	h.start()

	_, err = stream.Read(make([]byte, 4))
	if kind := provider.KindOf(err); kind != provider.KindRemoteUnavailable && kind != provider.KindClosed {
		t.Errorf("read on a handle from the old session = %v (kind %s), want remote_unavailable or closed", err, kind)
	}
	stream.Close()
}

func TestLinkDropReleasesSessionHandles(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"a": "a", "b": "b"})
	h := newHelper(t)
	connection, router := h.connect()
	ctx := context.Background()
	backend := backendFor(t, router, remoteFile(root))

	for _, name := range []string{"a", "b"} {
		if _, err := backend.OpenByteStream(ctx, remoteFile(filepath.Join(root, name)), provider.OpenRead); err != nil {
			t.Fatalf("OpenByteStream(%s): %v", name, err)
		}
	}
	peer, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if count, ok := sessionHandles(h.stub, peer.Session()); !ok || count != 2 {
		t.Fatalf("session holds %d handles (exists %v), want 2", count, ok)
	}

	if err := connection.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	eventually(t, "session release", func() bool {
		_, ok := sessionHandles(h.stub, peer.Session())
		return !ok
	})
	testutil.RequireClosed(t, h.stub.Idle(), 5*time.Second, "stub did not report idle")

	if _, err := connection.Get(ctx); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := connection.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := connection.Get(ctx); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("Get after second Close = %v, want ErrClosed", err)
	}
}

func TestClosedHandleReportsClosed(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"file": "data"})
	h := newHelper(t)
	connection, router := h.connect()
	ctx := context.Background()
	path := remoteFile(filepath.Join(root, "file"))

	stream, err := backendFor(t, router, path).OpenByteStream(ctx, path, provider.OpenRead)
	if err != nil {
		t.Fatalf("OpenByteStream: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := stream.Read(make([]byte, 1)); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("Read after Close = %v, want ErrClosed", err)
	}

	peer, err := connection.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if count, _ := sessionHandles(h.stub, peer.Session()); count != 0 {
		t.Errorf("session still holds %d handles after close", count)
	}

	// The helper rejects a handle name it never issued.
	_, err = parcel.Call[parcel.Chunk](ctx, peer, parcel.ActionStreamRead, map[string]any{"handle": "bogus", "size": 1})
	if !errors.Is(err, provider.ErrClosed) {
		t.Errorf("read on an unknown handle = %v, want ErrClosed", err)
	}
}

func TestTokenRequired(t *testing.T) {
	h := newHelper(t)
	h.stop()
	h.token = []byte("0123456789abcdef")
	h.start()
	ctx := context.Background()

	wrong := NewConnection(DialAcquirer{SocketPath: h.socketPath, Token: []byte("wrong")}, ConnectionOptions{Logger: testLogger()})
	defer wrong.Close()
	if _, err := wrong.Get(ctx); !errors.Is(err, provider.ErrRemoteUnavailable) {
		t.Errorf("Get with the wrong token = %v, want ErrRemoteUnavailable", err)
	}

	connection, _ := h.connect()
	if _, err := connection.Get(ctx); err != nil {
		t.Errorf("Get with the right token: %v", err)
	}
}

func TestUnreachableHelper(t *testing.T) {
	connection := NewConnection(DialAcquirer{SocketPath: filepath.Join(testutil.SocketDir(t), "absent.sock")}, ConnectionOptions{})
	defer connection.Close()
	forwarder := NewForwarder("file", connection, nil)
	if err := forwarder.Available(context.Background()); !errors.Is(err, provider.ErrRemoteUnavailable) {
		t.Errorf("Available = %v, want ErrRemoteUnavailable", err)
	}
}

func TestAvailableReportsMissingScheme(t *testing.T) {
	h := newHelper(t)
	connection, _ := h.connect()
	if err := NewForwarder("file", connection, nil).Available(context.Background()); err != nil {
		t.Errorf("Available(file) = %v", err)
	}
	err := NewForwarder("nowhere", connection, nil).Available(context.Background())
	if !errors.Is(err, provider.ErrUnsupported) {
		t.Errorf("Available(nowhere) = %v, want ErrUnsupported", err)
	}
}

func TestCanceledCallKeepsPeer(t *testing.T) {
	h := newHelper(t)
	connection, _ := h.connect()
	peer, err := connection.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = peer.Invoke(ctx, ActionLookup, map[string]any{"scheme": "file"})
	if !errors.Is(err, provider.ErrCanceled) {
		t.Errorf("canceled Invoke = %v, want ErrCanceled", err)
	}
	select {
	case <-peer.Done():
		t.Error("cancellation should not shut the peer down")
	default:
	}
	if _, err := peer.Invoke(context.Background(), ActionLookup, map[string]any{"scheme": "file"}); err != nil {
		t.Errorf("Invoke after a canceled call: %v", err)
	}
}
