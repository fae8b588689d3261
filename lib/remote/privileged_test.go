// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// newPrivileged returns a privileged forwarder for the helper's archive
// scheme.
func newPrivileged(t *testing.T, h *helper) *PrivilegedForwarder {
	t.Helper()
	connection, _ := h.connect()
	privileged := NewPrivilegedForwarder(NewForwarder(fspath.SchemeArchive, connection, testLogger()))
	t.Cleanup(func() { privileged.Close() })
	return privileged
}

// helperBuilds returns how often the helper built the index of the
// archive behind the forwarded key.
func helperBuilds(t *testing.T, h *helper, key fspath.Key) int64 {
	t.Helper()
	filesystem, ok := h.registry.Lookup(key.WithScheme(fspath.SchemeArchive))
	if !ok {
		t.Fatalf("helper has no filesystem for %s", key)
	}
	return filesystem.Stats().Builds
}

func TestNeedsRefreshRebuildsBeforeRead(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "data.tar")
	writeTar(t, archivePath, tarMember{name: "a.txt", content: "a"})
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	ctx := context.Background()
	root := remoteArchive(t, archivePath, "/")

	children, err := privileged.ListChildren(ctx, root)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if got := names(children); !slices.Equal(got, []string{"a.txt"}) {
		t.Fatalf("children = %q, want [a.txt]", got)
	}
	if builds := helperBuilds(t, h, root.Key()); builds != 1 {
		t.Fatalf("Builds = %d, want 1", builds)
	}

	writeTar(t, archivePath,
		tarMember{name: "a.txt", content: "a"},
		tarMember{name: "b.txt", content: "b"},
	)
	privileged.MarkNeedsRefresh(root.Key())
	if !privileged.NeedsRefresh(root.Key()) {
		t.Fatal("NeedsRefresh should report the mark")
	}

	children, err = privileged.ListChildren(ctx, root)
	if err != nil {
		t.Fatalf("ListChildren after refresh: %v", err)
	}
	if got := names(children); !slices.Equal(got, []string{"a.txt", "b.txt"}) {
		t.Errorf("children after refresh = %q, want [a.txt b.txt]", got)
	}
	if builds := helperBuilds(t, h, root.Key()); builds != 2 {
		t.Errorf("Builds = %d after refresh, want 2", builds)
	}
	if privileged.NeedsRefresh(root.Key()) {
		t.Error("the read should have consumed the mark")
	}

	// Without a mark, reads use the existing index.
	if _, err := privileged.ListChildren(ctx, root); err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if builds := helperBuilds(t, h, root.Key()); builds != 2 {
		t.Errorf("Builds = %d without a mark, want 2", builds)
	}
}

func TestMarkNeedsRefreshIgnoresPlainKeys(t *testing.T) {
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	privileged.MarkNeedsRefresh(fspath.FileKey)
	if privileged.NeedsRefresh(fspath.FileKey) {
		t.Error("a non-archive key should never need a refresh")
	}
}

func TestWatchArchiveMarksOnChange(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "watched.tar")
	writeTar(t, archivePath, tarMember{name: "a.txt", content: "a"})
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	key := remoteArchive(t, archivePath, "/").Key()

	if err := privileged.WatchArchive(key); err != nil {
		t.Fatalf("WatchArchive: %v", err)
	}
	if err := privileged.WatchArchive(key); err != nil {
		t.Fatalf("second WatchArchive: %v", err)
	}
	if privileged.NeedsRefresh(key) {
		t.Fatal("no change has happened yet")
	}

	writeTar(t, archivePath, tarMember{name: "b.txt", content: "b"})
	eventually(t, "refresh mark", func() bool { return privileged.NeedsRefresh(key) })

	if err := privileged.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := privileged.WatchArchive(key); provider.KindOf(err) != provider.KindClosed {
		t.Errorf("WatchArchive after Close = %v, want closed", err)
	}
}

func TestPrivilegedForwarderAcquiresOnDemand(t *testing.T) {
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	if err := privileged.EnsureConnection(context.Background()); err != nil {
		t.Fatalf("EnsureConnection: %v", err)
	}
	if privileged.Scheme() != "remote-archive" {
		t.Errorf("Scheme = %q, want remote-archive", privileged.Scheme())
	}

	h.stop()
	_, err := privileged.ListChildren(context.Background(), remoteArchive(t, "/nowhere.tar", "/"))
	if provider.KindOf(err) != provider.KindRemoteUnavailable {
		t.Errorf("read with the helper gone = %v, want remote_unavailable", err)
	}
}

func TestNeedsRefreshCoversViewsAndHandles(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "data.tar")
	writeTar(t, archivePath, tarMember{name: "a.txt", content: "a"})
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	ctx := context.Background()
	root := remoteArchive(t, archivePath, "/")

	if _, err := privileged.ListChildren(ctx, root); err != nil {
		t.Fatalf("ListChildren: %v", err)
	}

	writeTar(t, archivePath,
		tarMember{name: "a.txt", content: "a"},
		tarMember{name: "b.txt", content: "bb"},
	)
	privileged.MarkNeedsRefresh(root.Key())
	view, err := privileged.AttributeView(ctx, remoteArchive(t, archivePath, "/b.txt"), provider.FollowLinks)
	if err != nil {
		t.Fatalf("AttributeView after a mark: %v", err)
	}
	if privileged.NeedsRefresh(root.Key()) {
		t.Error("AttributeView should have consumed the mark")
	}

	writeTar(t, archivePath,
		tarMember{name: "a.txt", content: "a"},
		tarMember{name: "b.txt", content: "bbbb"},
	)
	privileged.MarkNeedsRefresh(root.Key())
	attributes, err := view.Read(ctx)
	if err != nil {
		t.Fatalf("view.Read after a mark: %v", err)
	}
	if attributes.Size != 4 {
		t.Errorf("view.Read size = %d, want 4", attributes.Size)
	}
	if privileged.NeedsRefresh(root.Key()) {
		t.Error("view.Read should have consumed the mark")
	}

	filesystem, ok := h.registry.Lookup(root.Key().WithScheme(fspath.SchemeArchive))
	if !ok {
		t.Fatal("helper has no filesystem for the archive")
	}
	if freshness := filesystem.Freshness(); freshness != archive.Fresh {
		t.Fatalf("freshness after view.Read = %v, want fresh", freshness)
	}
	privileged.MarkNeedsRefresh(root.Key())
	handle, err := privileged.OpenFileSystem(ctx, root.Key())
	if err != nil {
		t.Fatalf("OpenFileSystem after a mark: %v", err)
	}
	defer handle.Close(ctx)
	if freshness := filesystem.Freshness(); freshness != archive.Stale {
		t.Errorf("freshness after OpenFileSystem = %v, want stale", freshness)
	}
	if privileged.NeedsRefresh(root.Key()) {
		t.Error("OpenFileSystem should have consumed the mark")
	}
}

func TestIsSameFileRefreshesBothArchives(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.tar")
	second := filepath.Join(dir, "second.tar")
	writeTar(t, first, tarMember{name: "a.txt", content: "a"})
	writeTar(t, second, tarMember{name: "b.txt", content: "b"})
	h := newHelper(t)
	privileged := newPrivileged(t, h)
	ctx := context.Background()
	secondRoot := remoteArchive(t, second, "/")

	if _, err := privileged.ListChildren(ctx, secondRoot); err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	writeTar(t, second,
		tarMember{name: "b.txt", content: "b"},
		tarMember{name: "c.txt", content: "c"},
	)
	privileged.MarkNeedsRefresh(secondRoot.Key())

	same, err := privileged.IsSameFile(ctx,
		remoteArchive(t, first, "/a.txt"),
		remoteArchive(t, second, "/c.txt"))
	if err != nil {
		t.Fatalf("IsSameFile: %v", err)
	}
	if same {
		t.Error("entries of different archives should differ")
	}
	if privileged.NeedsRefresh(secondRoot.Key()) {
		t.Error("IsSameFile should have consumed the mark on its second path")
	}
}
