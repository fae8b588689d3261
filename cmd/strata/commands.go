// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/mount"
	"github.com/strata-fs/strata/lib/provider"
)

// command is one strata subcommand.
type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"ls", "ls [-l] [-a] PATH", "list a directory", runList},
	{"stat", "stat [--no-follow] PATH", "print the attributes of a path", runStat},
	{"cat", "cat PATH...", "write file contents to stdout", runCat},
	{"readlink", "readlink PATH", "print the target of a symbolic link", runReadlink},
	{"search", "search DIRECTORY QUERY", "find entries whose name matches QUERY", runSearch},
	{"refresh", "refresh ARCHIVE", "rebuild the index of an archive and the archives inside it", runRefresh},
	{"mount", "mount [--allow-other] PATH MOUNTPOINT", "mount a directory read-only with FUSE", runMount},
}

func findCommand(name string) (command, bool) {
	for _, candidate := range commands {
		if candidate.name == name {
			return candidate, true
		}
	}
	return command{}, false
}

// parseCommandFlags parses args with flagSet and checks the positional
// argument count lies in [minimum, maximum]; maximum < 0 means
// unbounded.
func parseCommandFlags(flagSet *pflag.FlagSet, args []string, minimum, maximum int) ([]string, error) {
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	positional := flagSet.Args()
	if len(positional) < minimum || (maximum >= 0 && len(positional) > maximum) {
		return nil, fmt.Errorf("%s: wrong number of arguments", flagSet.Name())
	}
	return positional, nil
}

func runList(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
	long := flagSet.BoolP("long", "l", false, "print type, mode, size, and modification time")
	all := flagSet.BoolP("all", "a", false, "include hidden entries")
	positional, err := parseCommandFlags(flagSet, args, 1, 1)
	if err != nil {
		return err
	}

	directory, backend, err := env.resolve(positional[0])
	if err != nil {
		return err
	}
	children, err := backend.ListChildren(ctx, directory)
	if err != nil {
		return err
	}
	slices.SortFunc(children, fspath.Path.Compare)

	for _, child := range children {
		if !*all {
			hidden, err := backend.IsHidden(ctx, child)
			if err != nil {
				return err
			}
			if hidden {
				continue
			}
		}
		if !*long {
			fmt.Fprintln(env.stdout, child.Name())
			continue
		}
		attributes, err := backend.ReadAttributes(ctx, child, provider.NoFollowLinks)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s %10d %s %s", modeString(attributes), attributes.Size,
			attributes.ModTime.UTC().Format(time.DateTime), child.Name())
		if attributes.IsSymlink() {
			if target, err := backend.ReadSymlinkTarget(ctx, child); err == nil {
				line += " -> " + target
			}
		}
		fmt.Fprintln(env.stdout, line)
	}
	return nil
}

// modeString renders the type and permissions like ls -l.
func modeString(attributes provider.Attributes) string {
	mode := attributes.Mode.Perm()
	if !attributes.HasMode {
		mode = 0
	}
	switch attributes.Type {
	case provider.TypeDirectory:
		mode |= fs.ModeDir
	case provider.TypeSymlink:
		mode |= fs.ModeSymlink
	case provider.TypeOther:
		mode |= fs.ModeIrregular
	}
	return mode.String()
}

func runStat(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("stat", pflag.ContinueOnError)
	noFollow := flagSet.Bool("no-follow", false, "describe a symbolic link itself")
	positional, err := parseCommandFlags(flagSet, args, 1, 1)
	if err != nil {
		return err
	}

	path, backend, err := env.resolve(positional[0])
	if err != nil {
		return err
	}
	link := provider.FollowLinks
	if *noFollow {
		link = provider.NoFollowLinks
	}
	attributes, err := backend.ReadAttributes(ctx, path, link)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.stdout, "path:     %s\n", display(path))
	fmt.Fprintf(env.stdout, "type:     %s\n", attributes.Type)
	fmt.Fprintf(env.stdout, "size:     %d\n", attributes.Size)
	if attributes.HasMode {
		fmt.Fprintf(env.stdout, "mode:     %s\n", modeString(attributes))
	}
	fmt.Fprintf(env.stdout, "modified: %s\n", formatTime(attributes.ModTime))
	fmt.Fprintf(env.stdout, "accessed: %s\n", formatTime(attributes.AccessTime))
	fmt.Fprintf(env.stdout, "created:  %s\n", formatTime(attributes.CreationTime))
	if attributes.Owner != nil {
		fmt.Fprintf(env.stdout, "owner:    %s\n", formatPrincipal(attributes.Owner))
	}
	if attributes.Group != nil {
		fmt.Fprintf(env.stdout, "group:    %s\n", formatPrincipal(attributes.Group))
	}
	if attributes.FileKey != "" {
		fmt.Fprintf(env.stdout, "file key: %s\n", attributes.FileKey)
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func formatPrincipal(principal *provider.Principal) string {
	if principal.Name == "" {
		return fmt.Sprint(principal.ID)
	}
	return fmt.Sprintf("%s (%d)", principal.Name, principal.ID)
}

func runCat(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("cat", pflag.ContinueOnError)
	positional, err := parseCommandFlags(flagSet, args, 1, -1)
	if err != nil {
		return err
	}
	buffer := make([]byte, env.cfg.Archive.ReadBuffer)
	for _, argument := range positional {
		path, backend, err := env.resolve(argument)
		if err != nil {
			return err
		}
		stream, err := backend.OpenByteStream(ctx, path, provider.OpenRead)
		if err != nil {
			return err
		}
		_, copyError := provider.CopyContextBuffer(ctx, env.stdout, stream, buffer)
		closeError := stream.Close()
		if err := errors.Join(copyError, closeError); err != nil {
			return fmt.Errorf("reading %s: %w", display(path), err)
		}
	}
	return nil
}

func runReadlink(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("readlink", pflag.ContinueOnError)
	positional, err := parseCommandFlags(flagSet, args, 1, 1)
	if err != nil {
		return err
	}
	path, backend, err := env.resolve(positional[0])
	if err != nil {
		return err
	}
	target, err := backend.ReadSymlinkTarget(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, target)
	return nil
}

func runSearch(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("search", pflag.ContinueOnError)
	positional, err := parseCommandFlags(flagSet, args, 2, 2)
	if err != nil {
		return err
	}
	directory, backend, err := env.resolve(positional[0])
	if err != nil {
		return err
	}
	return backend.Search(ctx, directory, positional[1], func(results []fspath.Path) {
		for _, result := range results {
			fmt.Fprintln(env.stdout, display(result))
		}
	}, env.cfg.Search.PollInterval)
}

func runRefresh(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
	positional, err := parseCommandFlags(flagSet, args, 1, 1)
	if err != nil {
		return err
	}
	path, _, err := env.resolve(positional[0])
	if err != nil {
		return err
	}
	marked, err := env.refresh(ctx, path.Key())
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "marked %d archive filesystem(s) stale\n", marked)
	return nil
}

func runMount(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	allowOther := flagSet.Bool("allow-other", false, "let other users access the mount (needs user_allow_other)")
	positional, err := parseCommandFlags(flagSet, args, 2, 2)
	if err != nil {
		return err
	}
	root, _, err := env.resolve(positional[0])
	if err != nil {
		return err
	}

	// The root helper cannot see changes to archive files on its own;
	// watch the backing file for it while the mount lives.
	if env.privileged != nil && root.Key().IsArchive() {
		if err := env.privileged.WatchArchive(root.Key()); err != nil {
			env.logger.Warn("archive changes will not be noticed", "archive", root.Key().Archive, "error", err)
		}
	}

	server, err := mount.Mount(mount.Options{
		Mountpoint: positional[1],
		Router:     env.router,
		Root:       root,
		AllowOther: *allowOther,
		Logger:     env.logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "mounted %s at %s\n", display(root), positional[1])

	<-ctx.Done()
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", positional[1], err)
	}
	return nil
}
