// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/watch"
)

// PrivilegedForwarder forwards to the root helper. The root helper
// cannot be relied on to notice changes to archives it reads, so the
// caller marks archives that need a refresh and the next read of one
// first asks the helper to rebuild it.
type PrivilegedForwarder struct {
	*Forwarder

	mu           sync.Mutex
	needsRefresh map[string]bool
	watches      map[string]*watch.Watcher
	closed       bool
}

var _ provider.Provider = (*PrivilegedForwarder)(nil)

// NewPrivilegedForwarder returns a forwarder for the root helper's
// scheme.
func NewPrivilegedForwarder(forwarder *Forwarder) *PrivilegedForwarder {
	return &PrivilegedForwarder{
		Forwarder:    forwarder,
		needsRefresh: make(map[string]bool),
		watches:      make(map[string]*watch.Watcher),
	}
}

// EnsureConnection acquires the root helper if it is not running,
// which may spawn it through the privilege command.
func (p *PrivilegedForwarder) EnsureConnection(ctx context.Context) error {
	_, err := p.connection.Get(ctx)
	return err
}

// MarkNeedsRefresh records that the archive behind key changed. Keys
// that are not archive keys are ignored.
func (p *PrivilegedForwarder) MarkNeedsRefresh(key fspath.Key) {
	if !key.IsArchive() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.needsRefresh[key.Archive] = true
}

// NeedsRefresh reports whether a refresh is pending for key.
func (p *PrivilegedForwarder) NeedsRefresh(key fspath.Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsRefresh[key.Archive]
}

// prepare runs before every read: it ensures the helper and issues the
// pending refresh for path's archive, if any. The marker is cleared
// before the refresh so a change racing with it is not lost.
func (p *PrivilegedForwarder) prepare(ctx context.Context, path fspath.Path) error {
	if err := p.EnsureConnection(ctx); err != nil {
		return err
	}
	key := path.Key()
	if !key.IsArchive() {
		return nil
	}
	p.mu.Lock()
	pending := p.needsRefresh[key.Archive]
	delete(p.needsRefresh, key.Archive)
	p.mu.Unlock()
	if !pending {
		return nil
	}
	if _, err := p.RefreshArchive(ctx, key); err != nil {
		p.MarkNeedsRefresh(key)
		return err
	}
	p.logger.Debug("refreshed archive before read", "archive", key.Archive)
	return nil
}

// WatchArchive watches the local backing file of the archive behind key
// and marks the archive for refresh whenever it changes. Watching the
// same archive twice is a no-op.
func (p *PrivilegedForwarder) WatchArchive(key fspath.Key) error {
	archive, err := key.ArchivePath()
	if err != nil {
		return err
	}
	if archive.Key().Scheme != fspath.SchemeFile {
		return provider.NewError("watch_archive", archive, provider.ErrUnsupported)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return provider.NewError("watch_archive", archive, provider.ErrClosed)
	}
	if _, watching := p.watches[key.Archive]; watching {
		return nil
	}
	watcher, err := watch.Directory(filepath.Dir(archive.String()))
	if err != nil {
		return fmt.Errorf("watching archive %s: %w", archive, err)
	}
	p.watches[key.Archive] = watcher
	go p.followArchive(watcher, key, archive.Name())
	return nil
}

func (p *PrivilegedForwarder) followArchive(watcher *watch.Watcher, key fspath.Key, name string) {
	for {
		batch, err := watcher.Next(context.Background())
		if err != nil {
			if !errors.Is(err, watch.ErrClosed) {
				p.logger.Warn("archive watch ended", "archive", key.Archive, "error", err)
			}
			p.MarkNeedsRefresh(key)
			return
		}
		for _, event := range batch {
			if event.Op == watch.Overflow || event.Name == name || event.Name == "" {
				p.MarkNeedsRefresh(key)
				break
			}
		}
	}
}

// Close stops every archive watch. The connection is closed by its
// owner.
func (p *PrivilegedForwarder) Close() error {
	p.mu.Lock()
	watches := p.watches
	p.watches = make(map[string]*watch.Watcher)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, watcher := range watches {
		errs = append(errs, watcher.Close())
	}
	return errors.Join(errs...)
}

func (p *PrivilegedForwarder) ToRealPath(ctx context.Context, path fspath.Path) (fspath.Path, error) {
	if err := p.prepare(ctx, path); err != nil {
		return fspath.Path{}, err
	}
	return p.Forwarder.ToRealPath(ctx, path)
}

func (p *PrivilegedForwarder) ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error) {
	if err := p.prepare(ctx, directory); err != nil {
		return nil, err
	}
	return p.Forwarder.ListChildren(ctx, directory)
}

func (p *PrivilegedForwarder) OpenByteStream(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.ByteStream, error) {
	if err := p.prepare(ctx, path); err != nil {
		return nil, err
	}
	return p.Forwarder.OpenByteStream(ctx, path, mode)
}

func (p *PrivilegedForwarder) OpenChannel(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.Channel, error) {
	if err := p.prepare(ctx, path); err != nil {
		return nil, err
	}
	return p.Forwarder.OpenChannel(ctx, path, mode)
}

func (p *PrivilegedForwarder) ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error) {
	if err := p.prepare(ctx, path); err != nil {
		return "", err
	}
	return p.Forwarder.ReadSymlinkTarget(ctx, path)
}

func (p *PrivilegedForwarder) CheckAccess(ctx context.Context, path fspath.Path, modes provider.AccessMode) error {
	if err := p.prepare(ctx, path); err != nil {
		return err
	}
	return p.Forwarder.CheckAccess(ctx, path, modes)
}

func (p *PrivilegedForwarder) ReadAttributes(ctx context.Context, path fspath.Path, link provider.LinkOption) (provider.Attributes, error) {
	if err := p.prepare(ctx, path); err != nil {
		return provider.Attributes{}, err
	}
	return p.Forwarder.ReadAttributes(ctx, path, link)
}

func (p *PrivilegedForwarder) GetFileStore(ctx context.Context, path fspath.Path) (provider.FileStore, error) {
	if err := p.prepare(ctx, path); err != nil {
		return provider.FileStore{}, err
	}
	return p.Forwarder.GetFileStore(ctx, path)
}

func (p *PrivilegedForwarder) IsSameFile(ctx context.Context, a, b fspath.Path) (bool, error) {
	if err := p.prepare(ctx, a); err != nil {
		return false, err
	}
	if err := p.prepare(ctx, b); err != nil {
		return false, err
	}
	return p.Forwarder.IsSameFile(ctx, a, b)
}

func (p *PrivilegedForwarder) IsHidden(ctx context.Context, path fspath.Path) (bool, error) {
	if err := p.prepare(ctx, path); err != nil {
		return false, err
	}
	return p.Forwarder.IsHidden(ctx, path)
}

func (p *PrivilegedForwarder) Search(ctx context.Context, directory fspath.Path, query string, results provider.SearchFunc, pollInterval time.Duration) error {
	if err := p.prepare(ctx, directory); err != nil {
		return err
	}
	return p.Forwarder.Search(ctx, directory, query, results, pollInterval)
}

func (p *PrivilegedForwarder) Watch(ctx context.Context, directory fspath.Path) (provider.Watcher, error) {
	if err := p.prepare(ctx, directory); err != nil {
		return nil, err
	}
	return p.Forwarder.Watch(ctx, directory)
}

// OpenFileSystem issues a pending refresh before pinning the archive.
func (p *PrivilegedForwarder) OpenFileSystem(ctx context.Context, key fspath.Key) (*FileSystemHandle, error) {
	if err := p.prepare(ctx, fspath.Root(key)); err != nil {
		return nil, err
	}
	return p.Forwarder.OpenFileSystem(ctx, key)
}

// AttributeView returns a view whose every Read and Write first issues
// a pending refresh of path's archive.
func (p *PrivilegedForwarder) AttributeView(ctx context.Context, path fspath.Path, link provider.LinkOption) (*AttributeView, error) {
	if err := p.prepare(ctx, path); err != nil {
		return nil, err
	}
	view, err := p.Forwarder.AttributeView(ctx, path, link)
	if err != nil {
		return nil, err
	}
	view.prepare = func(ctx context.Context) error { return p.prepare(ctx, path) }
	return view, nil
}
