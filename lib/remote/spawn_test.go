// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/strata-fs/strata/lib/testutil"
)

func TestSpawnArguments(t *testing.T) {
	acquirer := &SpawnAcquirer{
		Command:     []string{"sudo", "-n"},
		Binary:      "/usr/libexec/strata-helper",
		SocketPath:  "/run/strata/root.sock",
		SocketOwner: true,
		Args:        []string{"--log-level", "debug"},
	}
	want := []string{
		"sudo", "-n", "/usr/libexec/strata-helper",
		"--socket", "/run/strata/root.sock",
		"--token-file", "-",
		"--exit-when-unlinked",
		"--socket-owner", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"--log-level", "debug",
	}
	if got := acquirer.arguments(); !slices.Equal(got, want) {
		t.Errorf("arguments = %q, want %q", got, want)
	}

	plain := &SpawnAcquirer{Binary: "strata-helper", SocketPath: "/tmp/h.sock"}
	if got := plain.arguments(); got[0] != "strata-helper" || slices.Contains(got, "--socket-owner") {
		t.Errorf("arguments without a command or owner = %q", got)
	}
}

func TestSpawnReportsEarlyExit(t *testing.T) {
	acquirer := &SpawnAcquirer{
		Command:      []string{"/bin/sh", "-c", "exit 3", "sh"},
		Binary:       "strata-helper",
		SocketPath:   filepath.Join(testutil.SocketDir(t), "helper.sock"),
		StartTimeout: 5 * time.Second,
		Logger:       testLogger(),
	}
	defer acquirer.Close()

	start := time.Now()
	if _, err := acquirer.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire should fail when the helper exits without listening")
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Errorf("Acquire took %v; an early exit should not wait for the timeout", elapsed)
	}
}

func TestSpawnReusesRunningHelper(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "helper.sock")
	// The stand-in helper creates its "socket", stays up briefly, and
	// exits. $3 is the --socket value.
	acquirer := &SpawnAcquirer{
		Command:    []string{"/bin/sh", "-c", `touch "$3"; sleep 0.3`, "sh"},
		Binary:     "strata-helper",
		SocketPath: socketPath,
		Logger:     testLogger(),
	}
	defer acquirer.Close()
	ctx := context.Background()

	first, err := acquirer.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.SocketPath() != socketPath {
		t.Errorf("SocketPath = %q, want %q", first.SocketPath(), socketPath)
	}
	acquirer.mu.Lock()
	exited := acquirer.exited
	acquirer.mu.Unlock()
	if _, err := acquirer.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	acquirer.mu.Lock()
	reused := acquirer.exited == exited
	acquirer.mu.Unlock()
	if !reused {
		t.Error("a running helper should be reused")
	}

	testutil.RequireClosed(t, exited, 5*time.Second, "stand-in helper did not exit")
	if _, err := acquirer.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after exit: %v", err)
	}
	acquirer.mu.Lock()
	retired := len(acquirer.retired)
	acquirer.mu.Unlock()
	if retired != 1 {
		t.Errorf("retired tokens = %d, want 1", retired)
	}
}
