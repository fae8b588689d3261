// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/strata-fs/strata/lib/secret"
	"github.com/strata-fs/strata/lib/service"
	"github.com/strata-fs/strata/lib/watch"
)

// DefaultStartTimeout bounds how long a spawned helper may take to
// create its socket.
const DefaultStartTimeout = 10 * time.Second

// SpawnAcquirer starts a helper process and hands it a one-time session
// token on stdin. The helper exits once its last session unlinks, so a
// later Acquire after the helper died spawns a fresh one.
type SpawnAcquirer struct {
	// Command is prepended to the helper invocation, for example
	// []string{"sudo", "-n"} for the root helper. Empty runs Binary
	// directly.
	Command []string

	// Binary is the strata-helper executable.
	Binary string

	// SocketPath is where the helper listens. Its directory must exist.
	SocketPath string

	// SocketOwner makes the helper hand the socket to the calling
	// user, which a helper running as root must do.
	SocketOwner bool

	// Args are extra helper arguments.
	Args []string

	StartTimeout time.Duration
	Logger       *slog.Logger

	mu     sync.Mutex
	token  *secret.Buffer
	exited chan struct{}

	// retired holds tokens of helpers that exited. Clients built from
	// them may still be in use, so they are only released by Close.
	retired []*secret.Buffer
}

// Acquire returns a client for the running helper, spawning one if
// none runs.
func (a *SpawnAcquirer) Acquire(ctx context.Context) (*service.ServiceClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exited != nil {
		select {
		case <-a.exited:
			a.retired = append(a.retired, a.token)
			a.token, a.exited = nil, nil
		default:
			return service.NewServiceClient(a.SocketPath, a.token.Bytes()), nil
		}
	}

	token, err := secret.NewToken()
	if err != nil {
		return nil, err
	}
	exited, err := a.spawn(ctx, token)
	if err != nil {
		token.Close()
		return nil, err
	}
	a.token, a.exited = token, exited
	return service.NewServiceClient(a.SocketPath, token.Bytes()), nil
}

func (a *SpawnAcquirer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}

// arguments returns the full helper command line.
func (a *SpawnAcquirer) arguments() []string {
	argv := append([]string{}, a.Command...)
	argv = append(argv, a.Binary,
		"--socket", a.SocketPath,
		"--token-file", "-",
		"--exit-when-unlinked",
	)
	if a.SocketOwner {
		argv = append(argv, "--socket-owner", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}
	return append(argv, a.Args...)
}

func (a *SpawnAcquirer) spawn(ctx context.Context, token *secret.Buffer) (chan struct{}, error) {
	// A leftover socket would satisfy the wait below before the new
	// helper listens.
	if err := os.Remove(a.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger().Warn("removing stale helper socket", "socket", a.SocketPath, "error", err)
	}

	argv := a.arguments()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating helper stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting helper %s: %w", a.Binary, err)
	}

	line := make([]byte, 0, token.Len()+1)
	line = append(append(line, token.Bytes()...), '\n')
	_, writeError := stdin.Write(line)
	secret.Zero(line)
	stdin.Close()
	if writeError != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("writing session token to helper stdin: %w", writeError)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		a.logger().Info("helper exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()

	timeout := a.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if err := waitForSocket(ctx, a.SocketPath, exited, timeout); err != nil {
		cmd.Process.Kill()
		<-exited
		return nil, err
	}
	a.logger().Info("helper started", "pid", cmd.Process.Pid, "socket", a.SocketPath)
	return exited, nil
}

// waitForSocket blocks until path exists, the helper exits, or the
// timeout passes.
func waitForSocket(ctx context.Context, path string, exited <-chan struct{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := watch.WaitForFile(ctx, path)
	select {
	case <-exited:
		return fmt.Errorf("helper exited before creating %s", path)
	default:
	}
	if err != nil {
		return fmt.Errorf("waiting for helper socket: %w", err)
	}
	return nil
}

// Close releases the session tokens. Clients returned by Acquire must
// not be used afterwards; Connection.Close shuts its peer down first. A
// running helper exits on its own once its session unlinks.
func (a *SpawnAcquirer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil {
		a.retired = append(a.retired, a.token)
	}
	for _, token := range a.retired {
		token.Close()
	}
	a.token, a.exited, a.retired = nil, nil, nil
	return nil
}
