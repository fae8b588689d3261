// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/testutil"
)

// newTree writes tree into a temporary directory and returns a
// provider with a path constructor rooted there.
func newTree(t *testing.T, tree map[string]string) (*Provider, func(string) fspath.Path) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, tree)
	return New(Options{}), func(relative string) fspath.Path {
		return Path(filepath.Join(root, filepath.FromSlash(relative)))
	}
}

func sortedNames(paths []fspath.Path) []string {
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = path.Name()
	}
	slices.Sort(names)
	return names
}

func TestListChildren(t *testing.T) {
	local, path := newTree(t, map[string]string{
		"a.txt":     "a",
		"sub/b.txt": "b",
		"empty/":    "",
		"link":      "-> a.txt",
	})
	ctx := context.Background()

	children, err := local.ListChildren(ctx, path(""))
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if got, want := sortedNames(children), []string{"a.txt", "empty", "link", "sub"}; !slices.Equal(got, want) {
		t.Errorf("children = %q, want %q", got, want)
	}
	if parent, _ := children[0].Parent(); !parent.Equal(path("")) {
		t.Errorf("child %s is not under the listed directory", children[0])
	}

	if _, err := local.ListChildren(ctx, path("a.txt")); !errors.Is(err, provider.ErrNotADirectory) {
		t.Errorf("ListChildren(file) = %v, want ErrNotADirectory", err)
	}
	if _, err := local.ListChildren(ctx, path("missing")); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("ListChildren(missing) = %v, want ErrNotFound", err)
	}
}

func TestRejectsForeignScheme(t *testing.T) {
	local := New(Options{})
	key, err := fspath.ArchiveKey(Path("/x.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := local.ListChildren(context.Background(), fspath.Root(key)); !errors.Is(err, provider.ErrUnsupported) {
		t.Errorf("ListChildren(archive path) = %v, want ErrUnsupported", err)
	}
}

func TestChannelReadSeekAndReadAt(t *testing.T) {
	local, path := newTree(t, map[string]string{"data.bin": "0123456789"})

	channel, err := local.OpenChannel(context.Background(), path("data.bin"), provider.OpenRead)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	defer channel.Close()

	if size, err := channel.Size(); err != nil || size != 10 {
		t.Errorf("Size() = %d, %v; want 10", size, err)
	}
	if _, err := channel.Seek(4, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buffer := make([]byte, 3)
	if _, err := io.ReadFull(channel, buffer); err != nil || string(buffer) != "456" {
		t.Errorf("read after seek = %q, %v", buffer, err)
	}

	readerAt, ok := channel.(io.ReaderAt)
	if !ok {
		t.Fatal("local channels should implement io.ReaderAt")
	}
	if _, err := readerAt.ReadAt(buffer, 0); err != nil || string(buffer) != "012" {
		t.Errorf("ReadAt(0) = %q, %v", buffer, err)
	}
}

func TestOpenModes(t *testing.T) {
	local, path := newTree(t, map[string]string{"existing.txt": "old content", "dir/": ""})
	ctx := context.Background()

	write := func(target fspath.Path, mode provider.OpenMode, content string) error {
		stream, err := local.OpenByteStream(ctx, target, mode)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(stream, content); err != nil {
			stream.Close()
			return err
		}
		return stream.Close()
	}
	read := func(target fspath.Path) string {
		t.Helper()
		content, err := os.ReadFile(target.String())
		if err != nil {
			t.Fatalf("reading %s: %v", target, err)
		}
		return string(content)
	}

	if err := write(path("existing.txt"), provider.OpenWrite|provider.OpenTruncate, "new"); err != nil {
		t.Fatalf("truncating write: %v", err)
	}
	if got := read(path("existing.txt")); got != "new" {
		t.Errorf("after truncate = %q", got)
	}
	if err := write(path("existing.txt"), provider.OpenAppend, "+more"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := read(path("existing.txt")); got != "new+more" {
		t.Errorf("after append = %q", got)
	}
	if err := write(path("existing.txt"), provider.OpenWrite|provider.OpenCreateNew, "x"); !errors.Is(err, provider.ErrAlreadyExists) {
		t.Errorf("OpenCreateNew on existing = %v, want ErrAlreadyExists", err)
	}
	if err := write(path("created.txt"), provider.OpenWrite|provider.OpenCreate, "fresh"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := read(path("created.txt")); got != "fresh" {
		t.Errorf("created = %q", got)
	}
	if _, err := local.OpenByteStream(ctx, path("dir"), provider.OpenRead); !errors.Is(err, provider.ErrIsDirectory) {
		t.Errorf("opening a directory = %v, want ErrIsDirectory", err)
	}
	if _, err := local.OpenByteStream(ctx, path("absent"), provider.OpenRead); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("opening a missing file = %v, want ErrNotFound", err)
	}
}

func TestCreateAndDelete(t *testing.T) {
	local, path := newTree(t, map[string]string{"full/child.txt": "x", "file.txt": "y"})
	ctx := context.Background()

	if err := local.CreateDirectory(ctx, path("made"), 0o755); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := local.CreateDirectory(ctx, path("made"), 0o755); !errors.Is(err, provider.ErrAlreadyExists) {
		t.Errorf("second CreateDirectory = %v, want ErrAlreadyExists", err)
	}
	if err := local.CreateFile(ctx, path("made/new.txt"), 0o600); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := local.CreateFile(ctx, path("made/new.txt"), 0o600); !errors.Is(err, provider.ErrAlreadyExists) {
		t.Errorf("second CreateFile = %v, want ErrAlreadyExists", err)
	}
	if err := local.CreateSymlink(ctx, path("made/link"), "new.txt"); err != nil {
		t.Fatalf("CreateSymlink: %v", err)
	}
	if err := local.CreateLink(ctx, path("hard.txt"), path("file.txt")); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	same, err := local.IsSameFile(ctx, path("hard.txt"), path("file.txt"))
	if err != nil || !same {
		t.Errorf("IsSameFile(hard link, original) = %v, %v; want true", same, err)
	}
	different, err := local.IsSameFile(ctx, path("hard.txt"), path("full/child.txt"))
	if err != nil || different {
		t.Errorf("IsSameFile(unrelated) = %v, %v; want false", different, err)
	}

	if err := local.Delete(ctx, path("full")); !errors.Is(err, provider.ErrNotEmpty) {
		t.Errorf("Delete(non-empty directory) = %v, want ErrNotEmpty", err)
	}
	if err := local.Delete(ctx, path("full/child.txt")); err != nil {
		t.Fatalf("Delete(file): %v", err)
	}
	if err := local.Delete(ctx, path("full")); err != nil {
		t.Fatalf("Delete(empty directory): %v", err)
	}
	if err := local.Delete(ctx, path("full")); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestReadSymlinkTarget(t *testing.T) {
	local, path := newTree(t, map[string]string{"target.txt": "t", "link": "-> target.txt"})
	ctx := context.Background()

	target, err := local.ReadSymlinkTarget(ctx, path("link"))
	if err != nil || target != "target.txt" {
		t.Errorf("ReadSymlinkTarget = %q, %v", target, err)
	}
	if _, err := local.ReadSymlinkTarget(ctx, path("target.txt")); !errors.Is(err, provider.ErrNotSymlink) {
		t.Errorf("ReadSymlinkTarget(file) = %v, want ErrNotSymlink", err)
	}

	realPath, err := local.ToRealPath(ctx, path("link"))
	if err != nil {
		t.Fatalf("ToRealPath: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(path("target.txt").String())
	if realPath.String() != resolved {
		t.Errorf("ToRealPath = %s, want %s", realPath, resolved)
	}
}

func TestAttributes(t *testing.T) {
	local, path := newTree(t, map[string]string{"file.txt": "12345", "link": "-> file.txt"})
	ctx := context.Background()

	attributes, err := local.ReadAttributes(ctx, path("file.txt"), provider.FollowLinks)
	if err != nil {
		t.Fatalf("ReadAttributes: %v", err)
	}
	if !attributes.IsRegular() || attributes.Size != 5 || !attributes.HasMode || attributes.Mode.Perm() != 0o644 {
		t.Errorf("attributes = %+v", attributes)
	}
	if attributes.Owner == nil || attributes.Owner.ID != uint32(os.Getuid()) {
		t.Errorf("owner = %+v, want uid %d", attributes.Owner, os.Getuid())
	}

	link, err := local.ReadAttributes(ctx, path("link"), provider.NoFollowLinks)
	if err != nil || !link.IsSymlink() {
		t.Errorf("ReadAttributes(no follow) = %+v, %v", link, err)
	}
	followed, _ := local.ReadAttributes(ctx, path("link"), provider.FollowLinks)
	if followed.FileKey != attributes.FileKey {
		t.Error("following a link should reach the target's file key")
	}

	modTime := time.Date(2020, 1, 2, 3, 4, 5, 600, time.UTC)
	mode := fs.FileMode(0o600)
	update := provider.AttributeUpdate{ModTime: &modTime, Mode: &mode}
	if err := local.WriteAttributes(ctx, path("file.txt"), update); err != nil {
		t.Fatalf("WriteAttributes: %v", err)
	}
	updated, _ := local.ReadAttributes(ctx, path("file.txt"), provider.FollowLinks)
	if !updated.ModTime.Equal(modTime) || updated.Mode.Perm() != 0o600 {
		t.Errorf("after update mtime = %v mode = %v", updated.ModTime, updated.Mode)
	}
	if !updated.AccessTime.Equal(attributes.AccessTime) {
		t.Errorf("access time changed from %v to %v without being requested", attributes.AccessTime, updated.AccessTime)
	}

	birth := time.Now()
	if err := local.WriteAttributes(ctx, path("file.txt"), provider.AttributeUpdate{CreationTime: &birth}); !errors.Is(err, provider.ErrUnsupported) {
		t.Errorf("setting the creation time = %v, want ErrUnsupported", err)
	}
}

func TestCheckAccess(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	local, path := newTree(t, map[string]string{"script.sh": "#!/bin/sh\n", "plain.txt": "x"})
	if err := os.Chmod(path("script.sh").String(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path("plain.txt").String(), 0o444); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := local.CheckAccess(ctx, path("script.sh"), provider.AccessRead|provider.AccessExecute); err != nil {
		t.Errorf("CheckAccess(executable) = %v", err)
	}
	if err := local.CheckAccess(ctx, path("plain.txt"), provider.AccessWrite); !errors.Is(err, provider.ErrAccessDenied) {
		t.Errorf("CheckAccess(write on read-only) = %v, want ErrAccessDenied", err)
	}
	if err := local.CheckAccess(ctx, path("missing"), 0); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("CheckAccess(missing) = %v, want ErrNotFound", err)
	}
}

func TestCopy(t *testing.T) {
	local, path := newTree(t, map[string]string{"source.txt": "payload", "occupied.txt": "old", "dir/inner.txt": "i"})
	ctx := context.Background()

	if err := local.Copy(ctx, path("source.txt"), path("copy.txt"), provider.CopyOptions{}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if content, _ := os.ReadFile(path("copy.txt").String()); string(content) != "payload" {
		t.Errorf("copied content = %q", content)
	}

	if err := local.Copy(ctx, path("source.txt"), path("occupied.txt"), provider.CopyOptions{}); !errors.Is(err, provider.ErrAlreadyExists) {
		t.Errorf("Copy onto existing = %v, want ErrAlreadyExists", err)
	}
	if err := local.Copy(ctx, path("source.txt"), path("occupied.txt"), provider.CopyOptions{ReplaceExisting: true}); err != nil {
		t.Fatalf("Copy with replace: %v", err)
	}
	if content, _ := os.ReadFile(path("occupied.txt").String()); string(content) != "payload" {
		t.Errorf("replaced content = %q", content)
	}

	modTime := time.Date(2019, 6, 7, 8, 9, 10, 0, time.UTC)
	if err := os.Chtimes(path("source.txt").String(), modTime, modTime); err != nil {
		t.Fatal(err)
	}
	if err := local.Copy(ctx, path("source.txt"), path("preserved.txt"), provider.CopyOptions{CopyAttributes: true}); err != nil {
		t.Fatalf("Copy with attributes: %v", err)
	}
	attributes, _ := local.ReadAttributes(ctx, path("preserved.txt"), provider.FollowLinks)
	if !attributes.ModTime.Equal(modTime) {
		t.Errorf("preserved mtime = %v, want %v", attributes.ModTime, modTime)
	}

	if err := local.Copy(ctx, path("dir"), path("dir-copy"), provider.CopyOptions{}); err != nil {
		t.Fatalf("Copy(directory): %v", err)
	}
	children, _ := local.ListChildren(ctx, path("dir-copy"))
	if len(children) != 0 {
		t.Errorf("directory copy has %d children, want an empty directory", len(children))
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := local.Copy(canceled, path("source.txt"), path("never.txt"), provider.CopyOptions{}); !errors.Is(err, provider.ErrCanceled) {
		t.Errorf("Copy with canceled context = %v, want ErrCanceled", err)
	}
}

func TestMove(t *testing.T) {
	local, path := newTree(t, map[string]string{"from.txt": "moving", "taken.txt": "t", "tree/a/b.txt": "b"})
	ctx := context.Background()

	if err := local.Move(ctx, path("from.txt"), path("taken.txt"), provider.CopyOptions{}); !errors.Is(err, provider.ErrAlreadyExists) {
		t.Errorf("Move onto existing = %v, want ErrAlreadyExists", err)
	}
	if err := local.Move(ctx, path("from.txt"), path("to.txt"), provider.CopyOptions{}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(path("from.txt").String()); !errors.Is(err, fs.ErrNotExist) {
		t.Error("source still exists after Move")
	}
	if err := local.Move(ctx, path("tree"), path("moved-tree"), provider.CopyOptions{}); err != nil {
		t.Fatalf("Move(directory): %v", err)
	}
	if content, _ := os.ReadFile(path("moved-tree/a/b.txt").String()); string(content) != "b" {
		t.Errorf("moved tree content = %q", content)
	}
}

func TestCopyTreeAcrossDevices(t *testing.T) {
	_, path := newTree(t, map[string]string{"tree/a/b.txt": "b", "tree/link": "-> a/b.txt"})
	ctx := context.Background()

	preserve := provider.CopyOptions{CopyAttributes: true, Link: provider.NoFollowLinks}
	if err := copyEntry(ctx, path("tree").String(), path("copied").String(), preserve, true); err != nil {
		t.Fatalf("copyEntry: %v", err)
	}
	if content, _ := os.ReadFile(path("copied/a/b.txt").String()); string(content) != "b" {
		t.Errorf("copied file = %q", content)
	}
	if target, err := os.Readlink(path("copied/link").String()); err != nil || target != "a/b.txt" {
		t.Errorf("copied link = %q, %v", target, err)
	}
}

func TestFileStore(t *testing.T) {
	local, path := newTree(t, map[string]string{"f": "x"})
	store, err := local.GetFileStore(context.Background(), path("f"))
	if err != nil {
		t.Fatalf("GetFileStore: %v", err)
	}
	if store.Type == "" || store.TotalSpace <= 0 || store.FreeSpace > store.TotalSpace {
		t.Errorf("store = %+v", store)
	}
}

func TestIsHidden(t *testing.T) {
	local := New(Options{})
	for name, want := range map[string]bool{".profile": true, "visible": false, "..": false} {
		hidden, err := local.IsHidden(context.Background(), Path("/tmp/"+name))
		if err != nil {
			t.Fatalf("IsHidden(%s): %v", name, err)
		}
		if hidden != want {
			t.Errorf("IsHidden(%s) = %v, want %v", name, hidden, want)
		}
	}
}
