// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/localfs"
)

func TestParsePath(t *testing.T) {
	outer, err := fspath.ArchiveKey(localfs.Path("/data/outer.zip"))
	if err != nil {
		t.Fatal(err)
	}
	inner, err := fspath.ArchiveKey(fspath.Root(outer).ResolveString("nested/inner.tar"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		argument string
		want     fspath.Path
	}{
		{"/var/log", localfs.Path("/var/log")},
		{"/data/outer.zip!/docs/readme.md", fspath.Root(outer).ResolveString("docs/readme.md")},
		{"/data/outer.zip!/", fspath.Root(outer)},
		{"/data/outer.zip!/nested/inner.tar!/file", fspath.Root(inner).ResolveString("file")},
		{"file:///etc/hosts", localfs.Path("/etc/hosts")},
		{fspath.Root(outer).ResolveString("a").URI(), fspath.Root(outer).ResolveString("a")},
	}
	for _, test := range tests {
		got, err := parsePath(test.argument)
		if err != nil {
			t.Errorf("parsePath(%q): %v", test.argument, err)
			continue
		}
		if !got.Equal(test.want) {
			t.Errorf("parsePath(%q) = %s, want %s", test.argument, got.URI(), test.want.URI())
		}
	}
}

func TestParsePathRelative(t *testing.T) {
	t.Chdir(t.TempDir())
	path, err := parsePath("note:1.txt")
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	if path.Key() != fspath.FileKey || path.Name() != "note:1.txt" || !path.IsAbsolute() {
		t.Errorf("parsePath(note:1.txt) = %s, want an absolute host path", path.URI())
	}
}

func TestForwarded(t *testing.T) {
	key, err := fspath.ArchiveKey(localfs.Path("/data/a.tar"))
	if err != nil {
		t.Fatal(err)
	}
	path := fspath.Root(key).ResolveString("x")

	if got := forwarded(path, routeLocal); !got.Equal(path) {
		t.Errorf("local route changed the path to %s", got.URI())
	}
	remote := forwarded(path, routeRemote)
	if remote.Key().Scheme != "remote-archive" || remote.Key().Archive != key.Archive {
		t.Errorf("forwarded key = %s, want remote-archive with the same backing file", remote.Key())
	}
	if again := forwarded(remote, routeRoot); !again.Equal(remote) {
		t.Errorf("an already forwarded path was rewritten to %s", again.URI())
	}
	if got := forwarded(localfs.Path("/etc"), routeRoot).Key().Scheme; got != "remote-file" {
		t.Errorf("forwarded file scheme = %q, want remote-file", got)
	}
}

func TestParseRoute(t *testing.T) {
	for _, value := range []string{"local", "remote", "root"} {
		if _, err := parseRoute(value); err != nil {
			t.Errorf("parseRoute(%q): %v", value, err)
		}
	}
	if _, err := parseRoute("sideways"); err == nil {
		t.Error("expected an error for an unknown route")
	}
}
