// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/watch"
)

// Search walks directory with parallel workers. Unreadable
// subdirectories are skipped. Symbolic links are reported but not
// followed.
func (p *Provider) Search(ctx context.Context, directory fspath.Path, query string, results provider.SearchFunc, pollInterval time.Duration) error {
	root, err := hostPath("search", directory)
	if err != nil {
		return err
	}
	matcher, err := provider.NewMatcher(query)
	if err != nil {
		return err
	}
	batcher := provider.NewSearchBatcher(p.clock, pollInterval, results)
	defer batcher.Flush()

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(host string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if host == root {
				return err
			}
			return nil
		}
		if host == root {
			return nil
		}
		if matcher.Match(entry.Name()) {
			relative, err := filepath.Rel(root, host)
			if err != nil {
				return nil
			}
			batcher.Add(directory.Child(filepath.ToSlash(relative)))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return provider.NewError("search", directory, ctx.Err())
		}
		return failure("search", directory, err)
	}
	return nil
}

// Watch reports changes to the entries of directory. A removed
// directory is reported as ChangeDeleted for the directory itself,
// after which Next fails with provider.ErrClosed.
func (p *Provider) Watch(ctx context.Context, directory fspath.Path) (provider.Watcher, error) {
	host, err := hostPath("watch", directory)
	if err != nil {
		return nil, err
	}
	inner, err := watch.Directory(host)
	if err != nil {
		return nil, failure("watch", directory, unwrapWatchError(err))
	}
	return &directoryWatcher{inner: inner, directory: directory}, nil
}

// unwrapWatchError reaches the errno beneath the inotify wrapping so
// the kind survives.
func unwrapWatchError(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}

type directoryWatcher struct {
	inner     *watch.Watcher
	directory fspath.Path
}

func (w *directoryWatcher) Next(ctx context.Context) ([]provider.ChangeEvent, error) {
	events, err := w.inner.Next(ctx)
	if err != nil {
		if errors.Is(err, watch.ErrClosed) {
			return nil, provider.NewError("watch", w.directory, provider.ErrClosed)
		}
		return nil, provider.NewError("watch", w.directory, err)
	}
	changes := make([]provider.ChangeEvent, 0, len(events))
	for _, event := range events {
		switch {
		case event.Op == watch.Overflow:
			changes = append(changes, provider.ChangeEvent{Kind: provider.ChangeOverflow, Path: w.directory})
		case event.Name == "":
			changes = append(changes, provider.ChangeEvent{Kind: provider.ChangeDeleted, Path: w.directory})
		case event.Op == watch.Created:
			changes = append(changes, provider.ChangeEvent{Kind: provider.ChangeCreated, Path: w.directory.Child(event.Name)})
		case event.Op == watch.Removed:
			changes = append(changes, provider.ChangeEvent{Kind: provider.ChangeDeleted, Path: w.directory.Child(event.Name)})
		case event.Op == watch.Modified:
			changes = append(changes, provider.ChangeEvent{Kind: provider.ChangeModified, Path: w.directory.Child(event.Name)})
		}
	}
	return changes, nil
}

func (w *directoryWatcher) Close() error {
	return w.inner.Close()
}
