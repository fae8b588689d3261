// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/strata-fs/strata/lib/clock"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Options configures a Provider.
type Options struct {
	Logger *slog.Logger

	// Clock spaces search result batches. Defaults to the real clock.
	Clock clock.Clock
}

// Provider is the local filesystem provider.
type Provider struct {
	logger *slog.Logger
	clock  clock.Clock
	owners principalCache
}

var _ provider.Provider = (*Provider)(nil)

// New returns a local filesystem provider.
func New(options Options) *Provider {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Provider{logger: logger, clock: clk}
}

func (p *Provider) Scheme() string { return fspath.SchemeFile }

// Path returns the provider path of a host path.
func Path(hostPath string) fspath.Path {
	return fspath.Parse(fspath.FileKey, hostPath)
}

// hostPath maps path onto the host, resolving relative paths against
// the working directory.
func hostPath(op string, path fspath.Path) (string, error) {
	if err := provider.CheckScheme(op, fspath.SchemeFile, path); err != nil {
		return "", err
	}
	if path.IsAbsolute() {
		return path.String(), nil
	}
	absolute, err := filepath.Abs(path.String())
	if err != nil {
		return "", provider.NewError(op, path, err)
	}
	return absolute, nil
}

// failure wraps err for op on path, dropping the *fs.PathError layer so
// messages do not repeat the operation and path.
func failure(op string, path fspath.Path, err error) error {
	return provider.NewError(op, path, unwrapPathError(err))
}

func linkFailure(op string, path, other fspath.Path, err error) error {
	return provider.NewLinkError(op, path, other, unwrapPathError(err))
}

func unwrapPathError(err error) error {
	var pathError *fs.PathError
	if errors.As(err, &pathError) {
		return pathError.Err
	}
	var linkError *os.LinkError
	if errors.As(err, &linkError) {
		return linkError.Err
	}
	var syscallError *os.SyscallError
	if errors.As(err, &syscallError) {
		return syscallError.Err
	}
	return err
}

func (p *Provider) ToRealPath(ctx context.Context, path fspath.Path) (fspath.Path, error) {
	host, err := hostPath("to_real_path", path)
	if err != nil {
		return fspath.Path{}, err
	}
	resolved, err := filepath.EvalSymlinks(host)
	if err != nil {
		return fspath.Path{}, failure("to_real_path", path, err)
	}
	return Path(resolved), nil
}

func (p *Provider) ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error) {
	host, err := hostPath("list_children", directory)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failure("list_children", directory, err)
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, failure("list_children", directory, err)
	}
	children := make([]fspath.Path, len(entries))
	for i, entry := range entries {
		children[i] = directory.Child(entry.Name())
	}
	return children, nil
}

func (p *Provider) OpenByteStream(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.ByteStream, error) {
	return p.OpenChannel(ctx, path, mode)
}

func (p *Provider) OpenChannel(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.Channel, error) {
	host, err := hostPath("open", path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failure("open", path, err)
	}
	file, err := os.OpenFile(host, openFlags(mode), 0o666)
	if err != nil {
		return nil, failure("open", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, failure("open", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, provider.NewError("open", path, provider.ErrIsDirectory)
	}
	return &fileChannel{File: file}, nil
}

func openFlags(mode provider.OpenMode) int {
	var flags int
	switch {
	case mode&(provider.OpenWrite|provider.OpenAppend) != 0 && mode&provider.OpenRead != 0:
		flags = os.O_RDWR
	case mode&(provider.OpenWrite|provider.OpenAppend) != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if mode&provider.OpenAppend != 0 {
		flags |= os.O_APPEND
	}
	if mode&provider.OpenTruncate != 0 {
		flags |= os.O_TRUNC
	}
	if mode&provider.OpenCreateNew != 0 {
		flags |= os.O_CREATE | os.O_EXCL
	} else if mode&provider.OpenCreate != 0 {
		flags |= os.O_CREATE
	}
	return flags
}

// fileChannel is a provider.Channel over an open host file. The
// embedded *os.File also provides ReadAt.
type fileChannel struct {
	*os.File
}

func (c *fileChannel) Size() (int64, error) {
	info, err := c.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (p *Provider) CreateDirectory(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	host, err := hostPath("create_directory", path)
	if err != nil {
		return err
	}
	return failure("create_directory", path, os.Mkdir(host, perm))
}

func (p *Provider) CreateFile(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	host, err := hostPath("create_file", path)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(host, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return failure("create_file", path, err)
	}
	return failure("create_file", path, file.Close())
}

func (p *Provider) CreateSymlink(ctx context.Context, link fspath.Path, target string) error {
	host, err := hostPath("create_symlink", link)
	if err != nil {
		return err
	}
	return failure("create_symlink", link, os.Symlink(target, host))
}

func (p *Provider) CreateLink(ctx context.Context, link, existing fspath.Path) error {
	host, err := hostPath("create_link", link)
	if err != nil {
		return err
	}
	existingHost, err := hostPath("create_link", existing)
	if err != nil {
		return err
	}
	return linkFailure("create_link", link, existing, os.Link(existingHost, host))
}

// Delete removes a file, a symbolic link, or an empty directory.
func (p *Provider) Delete(ctx context.Context, path fspath.Path) error {
	host, err := hostPath("delete", path)
	if err != nil {
		return err
	}
	return failure("delete", path, os.Remove(host))
}

func (p *Provider) ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error) {
	host, err := hostPath("read_symlink", path)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(host)
	if err != nil {
		if errors.Is(err, errInvalid) {
			return "", provider.NewError("read_symlink", path, provider.ErrNotSymlink)
		}
		return "", failure("read_symlink", path, err)
	}
	return target, nil
}

func (p *Provider) IsHidden(ctx context.Context, path fspath.Path) (bool, error) {
	if err := provider.CheckScheme("is_hidden", fspath.SchemeFile, path); err != nil {
		return false, err
	}
	return provider.IsHiddenName(path.Name()), nil
}
