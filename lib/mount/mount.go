// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Options configures a mount.
type Options struct {
	// Mountpoint is the directory the filesystem is mounted on. It is
	// created if it does not exist.
	Mountpoint string

	// Router resolves the provider of Root.
	Router *provider.Router

	// Root is the provider directory exposed at the mountpoint.
	Root fspath.Path

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts Root at the configured mountpoint. The caller must call
// Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Router == nil {
		return nil, errors.New("router is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	backend, err := options.Router.For(options.Root)
	if err != nil {
		return nil, err
	}
	attributes, err := backend.ReadAttributes(context.Background(), options.Root, provider.FollowLinks)
	if err != nil {
		return nil, fmt.Errorf("reading mount root: %w", err)
	}
	if !attributes.IsDirectory() {
		return nil, provider.NewError("mount", options.Root, provider.ErrNotADirectory)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	tree := &tree{backend: backend, logger: options.Logger}
	root := &directoryNode{tree: tree, path: options.Root}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.Root.URI(),
			Name:       "strata",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("provider tree mounted", "mountpoint", options.Mountpoint, "root", options.Root.URI())
	return server, nil
}

// tree is shared by every node of one mount.
type tree struct {
	backend provider.Provider
	logger  *slog.Logger
}

// errno logs unexpected failures and maps err to an errno.
func (t *tree) errno(op string, path fspath.Path, err error) syscall.Errno {
	errno := Errno(err)
	if errno == syscall.EIO || errno == syscall.ENOTCONN {
		t.logger.Warn("mount operation failed", "op", op, "path", path.URI(), "error", err)
	}
	return errno
}

// node creates the inode for path with the given attributes.
func (t *tree) node(ctx context.Context, parent *gofuse.Inode, path fspath.Path, attributes provider.Attributes) *gofuse.Inode {
	var embedder gofuse.InodeEmbedder
	var mode uint32
	switch attributes.Type {
	case provider.TypeDirectory:
		embedder, mode = &directoryNode{tree: t, path: path}, syscall.S_IFDIR
	case provider.TypeSymlink:
		embedder, mode = &linkNode{tree: t, path: path}, syscall.S_IFLNK
	default:
		embedder, mode = &fileNode{tree: t, path: path}, syscall.S_IFREG
	}
	return parent.NewInode(ctx, embedder, gofuse.StableAttr{Mode: mode})
}

// getattr fills out with path's attributes.
func (t *tree) getattr(ctx context.Context, path fspath.Path, out *fuse.AttrOut) syscall.Errno {
	attributes, err := t.backend.ReadAttributes(ctx, path, provider.NoFollowLinks)
	if err != nil {
		return t.errno("getattr", path, err)
	}
	fillAttr(&out.Attr, attributes)
	return 0
}

// directoryNode is a provider directory.
type directoryNode struct {
	gofuse.Inode
	tree *tree
	path fspath.Path
}

var _ gofuse.InodeEmbedder = (*directoryNode)(nil)
var _ gofuse.NodeLookuper = (*directoryNode)(nil)
var _ gofuse.NodeReaddirer = (*directoryNode)(nil)
var _ gofuse.NodeGetattrer = (*directoryNode)(nil)

func (d *directoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	child := d.path.Child(name)
	attributes, err := d.tree.backend.ReadAttributes(ctx, child, provider.NoFollowLinks)
	if err != nil {
		return nil, d.tree.errno("lookup", child, err)
	}
	fillAttr(&out.Attr, attributes)
	return d.tree.node(ctx, d.EmbeddedInode(), child, attributes), 0
}

func (d *directoryNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.tree.backend.ListChildren(ctx, d.path)
	if err != nil {
		return nil, d.tree.errno("readdir", d.path, err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(syscall.S_IFREG)
		// An entry that vanished between the listing and the stat is
		// still listed; Lookup reports it missing.
		if attributes, err := d.tree.backend.ReadAttributes(ctx, child, provider.NoFollowLinks); err == nil {
			mode = typeBits(attributes.Type)
		}
		entries = append(entries, fuse.DirEntry{Name: child.Name(), Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *directoryNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return d.tree.getattr(ctx, d.path, out)
}

// linkNode is a symbolic link; the kernel resolves it.
type linkNode struct {
	gofuse.Inode
	tree *tree
	path fspath.Path
}

var _ gofuse.NodeReadlinker = (*linkNode)(nil)
var _ gofuse.NodeGetattrer = (*linkNode)(nil)

func (l *linkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := l.tree.backend.ReadSymlinkTarget(ctx, l.path)
	if err != nil {
		return nil, l.tree.errno("readlink", l.path, err)
	}
	return []byte(target), 0
}

func (l *linkNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return l.tree.getattr(ctx, l.path, out)
}

// fileNode is a regular file (or anything else that is read as bytes).
type fileNode struct {
	gofuse.Inode
	tree *tree
	path fspath.Path
}

var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	channel, err := n.tree.backend.OpenChannel(ctx, n.path, provider.OpenRead)
	if err != nil {
		return nil, 0, n.tree.errno("open", n.path, err)
	}
	return &fileHandle{tree: n.tree, path: n.path, channel: channel}, 0, 0
}

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.tree.getattr(ctx, n.path, out)
}

// fileHandle serves reads from one open channel. Reads at the current
// offset skip the seek, so sequential reads through a forwarded channel
// cost one round trip per chunk.
type fileHandle struct {
	tree *tree
	path fspath.Path

	mu      sync.Mutex
	channel provider.Channel
	offset  int64
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off != h.offset {
		if _, err := h.channel.Seek(off, io.SeekStart); err != nil {
			return nil, h.tree.errno("seek", h.path, err)
		}
		h.offset = off
	}
	count, err := io.ReadFull(h.channel, dest)
	h.offset += int64(count)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, h.tree.errno("read", h.path, err)
	}
	return fuse.ReadResultData(dest[:count]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.channel.Close(); err != nil {
		return h.tree.errno("release", h.path, err)
	}
	return 0
}
