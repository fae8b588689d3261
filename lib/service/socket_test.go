// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strata-fs/strata/lib/codec"
	"github.com/strata-fs/strata/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "test.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// startServer runs server until the test ends and waits for it to
// accept connections.
func startServer(t *testing.T, server *SocketServer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	select {
	case <-server.Ready():
	case err := <-done:
		t.Fatalf("Serve exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
}

func TestSocketServerDispatchesActions(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Message string `cbor:"message"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]string{"echo": request.Message}, nil
	})
	startServer(t, server)

	response := sendRequest(t, socketPath, map[string]any{"action": "echo", "message": "hello"})
	if !response.OK {
		t.Fatalf("response not ok: %s", response.Error)
	}
	var data map[string]string
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data["echo"] != "hello" {
		t.Errorf("echo = %q, want hello", data["echo"])
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSocketServerErrors(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fmt.Errorf("handler exploded")
	})
	server.Handle("empty", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	startServer(t, server)

	tests := []struct {
		name    string
		request any
		ok      bool
		message string
	}{
		{"handler error", map[string]any{"action": "fail"}, false, "handler exploded"},
		{"unknown action", map[string]any{"action": "nope"}, false, `unknown action "nope"`},
		{"missing action", map[string]any{"other": 1}, false, "missing required field: action"},
		{"nil result", map[string]any{"action": "empty"}, true, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response := sendRequest(t, socketPath, test.request)
			if response.OK != test.ok {
				t.Fatalf("ok = %v, want %v (error %q)", response.OK, test.ok, response.Error)
			}
			if !strings.Contains(response.Error, test.message) {
				t.Errorf("error = %q, want it to contain %q", response.Error, test.message)
			}
			if test.ok && len(response.Data) != 0 {
				t.Errorf("nil result produced data %x", response.Data)
			}
		})
	}
}

func TestSocketServerInvalidCBOR(t *testing.T) {
	socketPath := testSocketPath(t)
	startServer(t, NewSocketServer(socketPath, testLogger()))

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte{0xff, 0xff, 0xff})
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK || !strings.Contains(response.Error, "invalid request") {
		t.Errorf("response = %+v, want an invalid request error", response)
	}
}

func TestSocketServerRequiresToken(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.RequireToken([]byte("session-secret"))
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) { return "pong", nil })
	startServer(t, server)

	if response := sendRequest(t, socketPath, map[string]any{"action": "ping"}); response.OK {
		t.Error("request without a token was accepted")
	}
	if response := sendRequest(t, socketPath, map[string]any{"action": "ping", "token": []byte("wrong")}); response.OK {
		t.Error("request with the wrong token was accepted")
	}
	if response := sendRequest(t, socketPath, map[string]any{"action": "ping", "token": []byte("session-secret")}); !response.OK {
		t.Errorf("request with the right token failed: %s", response.Error)
	}
}

func TestSocketServerStreamHandler(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	handlerDone := make(chan struct{})
	server.HandleStream("link", func(ctx context.Context, raw []byte, conn net.Conn) {
		defer close(handlerDone)
		// Block until the peer goes away.
		io.Copy(io.Discard, conn)
	})
	startServer(t, server)

	client := NewServiceClient(socketPath, nil)
	conn, err := client.OpenStream(context.Background(), "link", nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	select {
	case <-handlerDone:
		t.Fatal("stream handler returned while the link was open")
	case <-time.After(50 * time.Millisecond):
	}

	conn.Close()
	testutil.RequireClosed(t, handlerDone, 5*time.Second, "stream handler did not see the link close")
}

func TestSocketServerClosesStreamsOnShutdown(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("link", func(ctx context.Context, raw []byte, conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	<-server.Ready()

	conn, err := NewServiceClient(socketPath, nil).OpenStream(context.Background(), "link", nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return with an open stream")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("client side of the stream still open after shutdown")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestSocketServerConcurrentRequests(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("square", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return request.Value * request.Value, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath, nil)
	var wait sync.WaitGroup
	for i := range 20 {
		wait.Add(1)
		go func() {
			defer wait.Done()
			var result int
			if err := client.Call(context.Background(), "square", map[string]any{"value": i}, &result); err != nil {
				t.Errorf("Call(%d): %v", i, err)
				return
			}
			if result != i*i {
				t.Errorf("square(%d) = %d", i, result)
			}
		}()
	}
	wait.Wait()
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer("/unused", nil)
	server.Handle("action", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("registering a stream over an existing action did not panic")
		}
	}()
	server.HandleStream("action", func(context.Context, []byte, net.Conn) {})
}
