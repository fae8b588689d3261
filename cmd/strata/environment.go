// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/config"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/localfs"
	"github.com/strata-fs/strata/lib/metrics"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/remote"
)

// environment is everything a command needs: the composed router and
// the pieces it is built from.
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	via      route
	stdout   io.Writer
	router   *provider.Router
	registry *archive.Registry

	// forwarders are registered for routeRemote and routeRoot.
	forwarders []*remote.Forwarder

	// privileged wraps the root helper's archive forwarder.
	privileged *remote.PrivilegedForwarder

	closers []io.Closer
}

// newEnvironment composes the router. The in-process local and archive
// providers are always present; the chosen helper's forwarders are
// added for remote and root routes.
func newEnvironment(cfg *config.Config, logger *slog.Logger, via route, stdout io.Writer) (*environment, error) {
	env := &environment{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		via:     via,
		stdout:  stdout,
	}

	router, err := provider.NewRouter(localfs.New(localfs.Options{Logger: logger}))
	if err != nil {
		return nil, err
	}
	env.router = router
	env.registry = archive.NewRegistry(router, archive.Options{
		Logger:          logger,
		Metrics:         env.metrics,
		MaxSymlinkDepth: cfg.Archive.MaxSymlinkDepth,
	})
	env.closers = append(env.closers, env.registry)
	if err := router.Register(archive.NewProvider(env.registry, router, nil)); err != nil {
		env.Close()
		return nil, fmt.Errorf("registering archive provider: %w", err)
	}

	if via != routeLocal {
		if err := env.addHelper(); err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}

// addHelper registers forwarders for the file and archive schemes of
// the remote or root helper.
func (e *environment) addHelper() error {
	if err := e.cfg.EnsurePaths(); err != nil {
		return err
	}

	var acquirer remote.Acquirer
	helper := e.cfg.Helper
	if e.via == routeRemote && !helper.SpawnRemote {
		acquirer = remote.DialAcquirer{SocketPath: helper.RemoteSocket}
	} else {
		binary, err := e.cfg.HelperPath()
		if err != nil {
			return err
		}
		spawn := &remote.SpawnAcquirer{
			Binary:       binary,
			SocketPath:   helper.RemoteSocket,
			StartTimeout: helper.StartTimeout,
			Logger:       e.logger,
			Args:         []string{"--log-level", e.cfg.Log.Level},
		}
		if e.via == routeRoot {
			spawn.Command = helper.PrivilegeCommand
			spawn.SocketPath = helper.RootSocket
			spawn.SocketOwner = true
		}
		e.closers = append(e.closers, spawn)
		acquirer = spawn
	}

	connection := remote.NewConnection(acquirer, remote.ConnectionOptions{Logger: e.logger, Metrics: e.metrics})
	e.closers = append(e.closers, connection)

	fileForwarder := remote.NewForwarder(fspath.SchemeFile, connection, e.logger)
	archiveForwarder := remote.NewForwarder(fspath.SchemeArchive, connection, e.logger)
	e.forwarders = []*remote.Forwarder{fileForwarder, archiveForwarder}

	var archiveProvider provider.Provider = archiveForwarder
	if e.via == routeRoot {
		e.privileged = remote.NewPrivilegedForwarder(archiveForwarder)
		e.closers = append(e.closers, e.privileged)
		archiveProvider = e.privileged
	}
	for _, backend := range []provider.Provider{fileForwarder, archiveProvider} {
		if err := e.router.Register(backend); err != nil {
			return fmt.Errorf("registering %s: %w", backend.Scheme(), err)
		}
	}
	return nil
}

// resolve parses a path argument and resolves its provider.
func (e *environment) resolve(argument string) (fspath.Path, provider.Provider, error) {
	path, err := parsePath(argument)
	if err != nil {
		return fspath.Path{}, nil, err
	}
	path = forwarded(path, e.via)
	backend, err := e.router.For(path)
	if err != nil {
		return fspath.Path{}, nil, err
	}
	return path, backend, nil
}

// archiveForwarder returns the helper forwarder for archive keys, or
// nil on the local route.
func (e *environment) archiveForwarder() *remote.Forwarder {
	for _, forwarder := range e.forwarders {
		if forwarder.Scheme() == provider.RemoteScheme(fspath.SchemeArchive) {
			return forwarder
		}
	}
	return nil
}

// refresh rebuilds the index of the archive behind key, in process or
// in the helper. It returns how many filesystems were marked.
func (e *environment) refresh(ctx context.Context, key fspath.Key) (int, error) {
	if !key.IsArchive() {
		return 0, provider.NewError("refresh", fspath.Root(key), provider.ErrUnsupported)
	}
	if e.via == routeLocal {
		return e.registry.MarkStaleTree(key), nil
	}
	return e.archiveForwarder().RefreshArchive(ctx, key)
}

// Close releases helpers, connections, and the archive registry, in
// reverse order of creation.
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
