// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Strata-helper serves the local and archive providers to a strata
// process over a Unix socket.
//
// The same binary is the unprivileged remote helper and the root
// helper; the caller decides which by how it starts it (directly, or
// through a privilege command such as "sudo -n"). The session token is
// read from --token-file, "-" meaning one line on stdin. A helper
// started with --exit-when-unlinked exits once the last caller's link
// drops, which is how spawned helpers go away.
//
// With --metrics-address the helper also serves Prometheus metrics
// over HTTP at /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/config"
	"github.com/strata-fs/strata/lib/localfs"
	"github.com/strata-fs/strata/lib/metrics"
	"github.com/strata-fs/strata/lib/process"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/remote"
	"github.com/strata-fs/strata/lib/secret"
	"github.com/strata-fs/strata/lib/service"
	"github.com/strata-fs/strata/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line.
type options struct {
	socket           string
	tokenFile        string
	exitWhenUnlinked bool
	socketOwner      string
	metricsAddress   string
	configPath       string
	logLevel         string
	showVersion      bool
}

func parseFlags(args []string) (*options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet("strata-helper", pflag.ContinueOnError)
	flagSet.StringVar(&parsed.socket, "socket", "", "Unix socket path to listen on (required)")
	flagSet.StringVar(&parsed.tokenFile, "token-file", "", `file holding the session token, "-" for stdin`)
	flagSet.BoolVar(&parsed.exitWhenUnlinked, "exit-when-unlinked", false, "exit once the last session link drops")
	flagSet.StringVar(&parsed.socketOwner, "socket-owner", "", "uid:gid to hand the socket to once bound")
	flagSet.StringVar(&parsed.metricsAddress, "metrics-address", "", "serve Prometheus metrics on this TCP address")
	flagSet.StringVar(&parsed.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&parsed.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if parsed.socket == "" && !parsed.showVersion {
		return nil, errors.New("--socket is required")
	}
	return &parsed, nil
}

// parseOwner parses a "uid:gid" pair.
func parseOwner(value string) (uid, gid int, err error) {
	uidText, gidText, found := strings.Cut(value, ":")
	if !found {
		return 0, 0, fmt.Errorf("socket owner %q is not uid:gid", value)
	}
	if uid, err = strconv.Atoi(uidText); err != nil || uid < 0 {
		return 0, 0, fmt.Errorf("socket owner %q has an invalid uid", value)
	}
	if gid, err = strconv.Atoi(gidText); err != nil || gid < 0 {
		return 0, 0, fmt.Errorf("socket owner %q has an invalid gid", value)
	}
	return uid, gid, nil
}

func loadConfig(parsed *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if parsed.configPath != "" {
		cfg, err = config.LoadFile(parsed.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if parsed.logLevel != "" {
		cfg.Log.Level = parsed.logLevel
	}
	if parsed.metricsAddress != "" {
		cfg.Metrics.Address = parsed.metricsAddress
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	parsed, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if parsed.showVersion {
		version.Print("strata-helper")
		return nil
	}

	cfg, err := loadConfig(parsed)
	if err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := service.NewLogger(level).With("socket", parsed.socket)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collectors := metrics.New()
	router, registry, err := buildRouter(cfg, logger, collectors)
	if err != nil {
		return err
	}
	defer registry.Close()

	stub := remote.NewStub(router, registry, remote.StubOptions{
		Logger:  logger,
		Metrics: collectors,
	})
	defer stub.Close()

	server := service.NewSocketServer(parsed.socket, logger)
	if parsed.tokenFile != "" {
		token, err := secret.ReadFromPath(parsed.tokenFile)
		if err != nil {
			return fmt.Errorf("reading session token: %w", err)
		}
		defer token.Close()
		server.RequireToken(token.Bytes())
	}
	if parsed.socketOwner != "" {
		uid, gid, err := parseOwner(parsed.socketOwner)
		if err != nil {
			return err
		}
		server.SetSocketOwner(uid, gid)
	}
	stub.Register(server)

	metricsDone := make(chan error, 1)
	if cfg.Metrics.Address != "" {
		metricsServer := service.NewMetricsServer(service.MetricsServerConfig{
			Address:  cfg.Metrics.Address,
			Gatherer: collectors.Registry(),
			Logger:   logger,
		})
		go func() { metricsDone <- metricsServer.Serve(ctx) }()
	} else {
		metricsDone <- nil
	}

	if parsed.exitWhenUnlinked {
		go func() {
			select {
			case <-stub.Idle():
				logger.Info("last session unlinked, exiting")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	socketDone := make(chan error, 1)
	go func() { socketDone <- server.Serve(ctx) }()

	select {
	case <-server.Ready():
		logger.Info("helper listening", "pid", os.Getpid(), "uid", os.Getuid(), "version", version.Info())
	case err := <-socketDone:
		return fmt.Errorf("serving helper socket: %w", err)
	}

	serveError := <-socketDone
	cancel()
	if err := <-metricsDone; err != nil {
		logger.Error("metrics server error", "error", err)
	}
	if serveError != nil {
		return fmt.Errorf("serving helper socket: %w", serveError)
	}
	return nil
}

// buildRouter composes the providers a helper serves: the local
// filesystem and archives, which open their backing files through the
// same router.
func buildRouter(cfg *config.Config, logger *slog.Logger, collectors *metrics.Metrics) (*provider.Router, *archive.Registry, error) {
	router, err := provider.NewRouter(localfs.New(localfs.Options{Logger: logger}))
	if err != nil {
		return nil, nil, err
	}
	registry := archive.NewRegistry(router, archive.Options{
		Logger:          logger,
		Metrics:         collectors,
		MaxSymlinkDepth: cfg.Archive.MaxSymlinkDepth,
	})
	if err := router.Register(archive.NewProvider(registry, router, nil)); err != nil {
		registry.Close()
		return nil, nil, fmt.Errorf("registering archive provider: %w", err)
	}
	return router, registry, nil
}
