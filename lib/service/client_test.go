// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestClientCallDecodesResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"uptime_seconds": 42}, nil
	})
	startServer(t, server)

	var result struct {
		UptimeSeconds int `cbor:"uptime_seconds"`
	}
	if err := NewServiceClient(socketPath, nil).Call(context.Background(), "status", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.UptimeSeconds != 42 {
		t.Errorf("uptime = %d, want 42", result.UptimeSeconds)
	}
}

func TestClientCallSendsToken(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.RequireToken([]byte("t0ken"))
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
	startServer(t, server)

	if err := NewServiceClient(socketPath, []byte("t0ken")).Call(context.Background(), "ping", nil, nil); err != nil {
		t.Errorf("authenticated Call: %v", err)
	}
	var serviceError *ServiceError
	if err := NewServiceClient(socketPath, nil).Call(context.Background(), "ping", nil, nil); !errors.As(err, &serviceError) {
		t.Errorf("unauthenticated Call = %v, want a *ServiceError", err)
	}
}

func TestClientCallServiceError(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("broken", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("disk on fire")
	})
	startServer(t, server)

	err := NewServiceClient(socketPath, nil).Call(context.Background(), "broken", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("Call = %v, want *ServiceError", err)
	}
	if serviceError.Action != "broken" || serviceError.Message != "disk on fire" {
		t.Errorf("ServiceError = %+v", serviceError)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	client := NewServiceClient(filepath.Join(t.TempDir(), "absent.sock"), nil)
	err := client.Call(context.Background(), "anything", nil, nil)
	if err == nil {
		t.Fatal("Call to a missing socket succeeded")
	}
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		t.Error("transport failure reported as a *ServiceError")
	}
}

func TestClientCallHonorsContext(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	release := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	startServer(t, server)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := NewServiceClient(socketPath, nil).Call(ctx, "slow", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call past its deadline = %v, want context.DeadlineExceeded", err)
	}
}
