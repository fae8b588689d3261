// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"io/fs"
	"strings"
	"time"

	"github.com/strata-fs/strata/lib/fspath"
)

// Provider implements filesystem operations for one scheme. Every
// path argument must carry that scheme in its key; implementations
// reject foreign paths with ErrUnsupported.
//
// Blocking operations take a context. Implementations that cannot be
// interrupted mid-call check the context before starting.
type Provider interface {
	// Scheme returns the scheme this provider serves.
	Scheme() string

	// ToRealPath returns the absolute, normalized path with symbolic
	// links resolved, failing with ErrNotFound if it does not exist.
	ToRealPath(ctx context.Context, path fspath.Path) (fspath.Path, error)

	// ListChildren returns the entries of directory. The order is
	// unspecified.
	ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error)

	OpenByteStream(ctx context.Context, path fspath.Path, mode OpenMode) (ByteStream, error)
	OpenChannel(ctx context.Context, path fspath.Path, mode OpenMode) (Channel, error)

	CreateDirectory(ctx context.Context, path fspath.Path, perm fs.FileMode) error
	CreateFile(ctx context.Context, path fspath.Path, perm fs.FileMode) error
	CreateSymlink(ctx context.Context, link fspath.Path, target string) error

	// CreateLink creates a hard link at link naming existing.
	CreateLink(ctx context.Context, link, existing fspath.Path) error

	Delete(ctx context.Context, path fspath.Path) error

	// Copy and Move honor ctx cancellation between buffers. A canceled
	// copy leaves whatever it has written in place.
	Copy(ctx context.Context, source, target fspath.Path, options CopyOptions) error
	Move(ctx context.Context, source, target fspath.Path, options CopyOptions) error

	ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error)

	// CheckAccess fails with ErrNotFound or ErrAccessDenied if path is
	// missing or lacks any access in modes.
	CheckAccess(ctx context.Context, path fspath.Path, modes AccessMode) error

	ReadAttributes(ctx context.Context, path fspath.Path, link LinkOption) (Attributes, error)
	WriteAttributes(ctx context.Context, path fspath.Path, update AttributeUpdate) error

	GetFileStore(ctx context.Context, path fspath.Path) (FileStore, error)
	IsSameFile(ctx context.Context, a, b fspath.Path) (bool, error)
	IsHidden(ctx context.Context, path fspath.Path) (bool, error)

	// Search walks directory recursively and reports every entry whose
	// name matches query. Results are delivered to results in batches
	// spaced by at least pollInterval; the final batch is delivered
	// before Search returns.
	Search(ctx context.Context, directory fspath.Path, query string, results SearchFunc, pollInterval time.Duration) error

	// Watch returns a watcher for changes to the entries of directory.
	Watch(ctx context.Context, directory fspath.Path) (Watcher, error)
}

// RemoteScheme returns the scheme under which a helper process serves
// scheme.
func RemoteScheme(scheme string) string {
	return fspath.RemotePrefix + scheme
}

// LocalScheme returns the scheme a forwarded scheme maps to on the
// helper side, and whether scheme was a forwarded one.
func LocalScheme(scheme string) (string, bool) {
	return strings.CutPrefix(scheme, fspath.RemotePrefix)
}

// CheckScheme fails with ErrUnsupported unless every path belongs to
// scheme.
func CheckScheme(op, scheme string, paths ...fspath.Path) error {
	for _, path := range paths {
		if path.Key().Scheme != scheme {
			return &Error{Op: op, Path: path.URI(), Kind: KindUnsupported, Err: ErrUnsupported}
		}
	}
	return nil
}

// IsHiddenName reports the dot-file convention shared by the local and
// archive providers.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
