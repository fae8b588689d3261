// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Strata browses local directories and the insides of archives through
// one path namespace, optionally through a helper process.
//
// Paths are host paths, host paths with "!/" descending into an
// archive ("logs.tar.gz!/2026/app.log", nested archives allowed), or
// path URIs. --via remote sends every operation to the unprivileged
// helper and --via root to the helper started through the configured
// privilege command; the default is in process.
//
// Usage:
//
//	strata [--via local|remote|root] [--config FILE] COMMAND [ARGS]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/strata-fs/strata/lib/config"
	"github.com/strata-fs/strata/lib/process"
	"github.com/strata-fs/strata/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		process.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var configPath, via, logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet("strata", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&via, "via", string(routeLocal), "serve paths locally, through the remote helper, or through the root helper")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Fprint(stdout, "strata")
		return nil
	}
	if flagSet.NArg() == 0 {
		printUsage(stderr, flagSet)
		return errors.New("no command given")
	}
	selected, ok := findCommand(flagSet.Arg(0))
	if !ok {
		return fmt.Errorf("unknown command %q", flagSet.Arg(0))
	}

	route, err := parseRoute(via)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath, logLevel)
	if err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	env, err := newEnvironment(cfg, logger, route, stdout)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := selected.run(ctx, env, flagSet.Args()[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%s: %w", selected.name, err)
	}
	return nil
}

func loadConfig(path, logLevel string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: strata [flags] COMMAND [ARGS]\n\nCommands:\n")
	for _, candidate := range commands {
		fmt.Fprintf(w, "  %-40s %s\n", candidate.usage, candidate.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}
