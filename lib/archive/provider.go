// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"io/fs"
	"time"

	"github.com/strata-fs/strata/lib/clock"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Provider serves the "archive" scheme from a Registry. Every mutating
// operation fails with provider.ErrReadOnly without touching any index.
type Provider struct {
	registry *Registry
	router   *provider.Router
	clock    clock.Clock
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider returns the archive provider. router resolves backing
// archive files for file stores, access checks, and watches; it is
// normally the same router the provider is registered on.
func NewProvider(registry *Registry, router *provider.Router, clk clock.Clock) *Provider {
	if clk == nil {
		clk = clock.Real()
	}
	return &Provider{registry: registry, router: router, clock: clk}
}

// Registry returns the registry the provider reads from.
func (p *Provider) Registry() *Registry { return p.registry }

func (p *Provider) Scheme() string { return fspath.SchemeArchive }

func (p *Provider) fileSystem(op string, paths ...fspath.Path) (*FileSystem, error) {
	if err := provider.CheckScheme(op, fspath.SchemeArchive, paths...); err != nil {
		return nil, err
	}
	return p.registry.GetOrCreate(paths[0].Key())
}

func readOnly(op string, path fspath.Path) error {
	return provider.NewError(op, path, provider.ErrReadOnly)
}

func (p *Provider) ToRealPath(ctx context.Context, path fspath.Path) (fspath.Path, error) {
	filesystem, err := p.fileSystem("to_real_path", path)
	if err != nil {
		return fspath.Path{}, err
	}
	entry, err := filesystem.ResolveEntry(ctx, path, provider.FollowLinks)
	if err != nil {
		return fspath.Path{}, err
	}
	return entry.Path, nil
}

func (p *Provider) ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error) {
	filesystem, err := p.fileSystem("list_children", directory)
	if err != nil {
		return nil, err
	}
	return filesystem.ListChildren(ctx, directory)
}

func (p *Provider) OpenByteStream(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.ByteStream, error) {
	return p.OpenChannel(ctx, path, mode)
}

func (p *Provider) OpenChannel(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.Channel, error) {
	filesystem, err := p.fileSystem("open", path)
	if err != nil {
		return nil, err
	}
	if mode.Writes() {
		return nil, readOnly("open", path)
	}
	return filesystem.OpenChannel(ctx, path)
}

func (p *Provider) CreateDirectory(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	return readOnly("create_directory", path)
}

func (p *Provider) CreateFile(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	return readOnly("create_file", path)
}

func (p *Provider) CreateSymlink(ctx context.Context, link fspath.Path, target string) error {
	return readOnly("create_symlink", link)
}

func (p *Provider) CreateLink(ctx context.Context, link, existing fspath.Path) error {
	return readOnly("create_link", link)
}

func (p *Provider) Delete(ctx context.Context, path fspath.Path) error {
	return readOnly("delete", path)
}

// Copy within archives always targets an archive, so it is read-only.
// Copies out of an archive go through provider.Router.Copy.
func (p *Provider) Copy(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	return readOnly("copy", target)
}

func (p *Provider) Move(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	return readOnly("move", source)
}

func (p *Provider) ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error) {
	filesystem, err := p.fileSystem("read_symlink", path)
	if err != nil {
		return "", err
	}
	return filesystem.ReadSymlinkTarget(ctx, path)
}

// CheckAccess reports write access as a read-only filesystem does
// (ErrReadOnly, like EROFS from access(2)). Execute access requires an
// execute bit when the format records modes.
func (p *Provider) CheckAccess(ctx context.Context, path fspath.Path, modes provider.AccessMode) error {
	filesystem, err := p.fileSystem("check_access", path)
	if err != nil {
		return err
	}
	entry, err := filesystem.ResolveEntry(ctx, path, provider.FollowLinks)
	if err != nil {
		return err
	}
	if modes&provider.AccessWrite != 0 {
		return readOnly("check_access", path)
	}
	if modes&provider.AccessExecute != 0 && entry.HasMode && entry.Mode&0o111 == 0 {
		return provider.NewError("check_access", path, provider.ErrAccessDenied)
	}
	return nil
}

func (p *Provider) ReadAttributes(ctx context.Context, path fspath.Path, link provider.LinkOption) (provider.Attributes, error) {
	filesystem, err := p.fileSystem("read_attributes", path)
	if err != nil {
		return provider.Attributes{}, err
	}
	entry, err := filesystem.ResolveEntry(ctx, path, link)
	if err != nil {
		return provider.Attributes{}, err
	}
	return entry.Attributes(), nil
}

func (p *Provider) WriteAttributes(ctx context.Context, path fspath.Path, update provider.AttributeUpdate) error {
	return readOnly("write_attributes", path)
}

// GetFileStore describes the archive as a read-only store whose total
// space is the sum of its members' sizes.
func (p *Provider) GetFileStore(ctx context.Context, path fspath.Path) (provider.FileStore, error) {
	filesystem, err := p.fileSystem("get_file_store", path)
	if err != nil {
		return provider.FileStore{}, err
	}
	index, err := filesystem.Index(ctx)
	if err != nil {
		return provider.FileStore{}, err
	}
	var total int64
	index.Walk(func(entry Entry) bool {
		if entry.HardLinkTarget == "" {
			total += entry.Size
		}
		return true
	})
	return provider.FileStore{
		Name:       filesystem.ArchivePath().Name(),
		Type:       index.Format().String(),
		ReadOnly:   true,
		TotalSpace: total,
	}, nil
}

func (p *Provider) IsSameFile(ctx context.Context, a, b fspath.Path) (bool, error) {
	if a.Equal(b) {
		return true, nil
	}
	if a.Key() != b.Key() {
		return false, nil
	}
	filesystem, err := p.fileSystem("is_same_file", a, b)
	if err != nil {
		return false, err
	}
	first, err := filesystem.ResolveEntry(ctx, a, provider.FollowLinks)
	if err != nil {
		return false, err
	}
	second, err := filesystem.ResolveEntry(ctx, b, provider.FollowLinks)
	if err != nil {
		return false, err
	}
	return first.FileKey() == second.FileKey(), nil
}

func (p *Provider) IsHidden(ctx context.Context, path fspath.Path) (bool, error) {
	if err := provider.CheckScheme("is_hidden", fspath.SchemeArchive, path); err != nil {
		return false, err
	}
	return provider.IsHiddenName(path.Name()), nil
}

// Search walks the in-memory index, so results arrive as fast as the
// matcher runs; batching still honors pollInterval.
func (p *Provider) Search(ctx context.Context, directory fspath.Path, query string, results provider.SearchFunc, pollInterval time.Duration) error {
	filesystem, err := p.fileSystem("search", directory)
	if err != nil {
		return err
	}
	matcher, err := provider.NewMatcher(query)
	if err != nil {
		return err
	}
	batcher := provider.NewSearchBatcher(p.clock, pollInterval, results)
	err = filesystem.Walk(ctx, directory, func(entry Entry) bool {
		if matcher.Match(entry.Name()) {
			batcher.Add(entry.Path)
		}
		return true
	})
	batcher.Flush()
	return err
}

// Watch watches the backing archive file. Any change to it marks the
// archive (and archives nested in it) stale and is reported as a single
// ChangeOverflow for directory: the whole listing must be reread.
func (p *Provider) Watch(ctx context.Context, directory fspath.Path) (provider.Watcher, error) {
	filesystem, err := p.fileSystem("watch", directory)
	if err != nil {
		return nil, err
	}
	if _, err := filesystem.ListChildren(ctx, directory); err != nil {
		return nil, err
	}

	archive := filesystem.ArchivePath()
	parent, ok := archive.Parent()
	if !ok {
		return nil, provider.NewError("watch", directory, provider.ErrUnsupported)
	}
	backing, err := p.router.For(parent)
	if err != nil {
		return nil, err
	}
	inner, err := backing.Watch(ctx, parent)
	if err != nil {
		return nil, err
	}
	return &archiveWatcher{
		inner:     inner,
		registry:  p.registry,
		key:       filesystem.Key(),
		archive:   archive.Name(),
		directory: directory,
	}, nil
}

type archiveWatcher struct {
	inner     provider.Watcher
	registry  *Registry
	key       fspath.Key
	archive   string
	directory fspath.Path
}

func (w *archiveWatcher) Next(ctx context.Context) ([]provider.ChangeEvent, error) {
	for {
		events, err := w.inner.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			if event.Kind == provider.ChangeOverflow || event.Path.Name() == w.archive {
				w.registry.MarkStaleTree(w.key)
				return []provider.ChangeEvent{{Kind: provider.ChangeOverflow, Path: w.directory}}, nil
			}
		}
	}
}

func (w *archiveWatcher) Close() error {
	return w.inner.Close()
}
