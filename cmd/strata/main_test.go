// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strata-fs/strata/lib/archive"
	"github.com/strata-fs/strata/lib/localfs"
	"github.com/strata-fs/strata/lib/provider"
	"github.com/strata-fs/strata/lib/remote"
	"github.com/strata-fs/strata/lib/service"
	"github.com/strata-fs/strata/lib/testutil"
)

// strata runs the CLI and returns its stdout.
func strata(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"--log-level", "error"}, args...), &stdout, &stderr)
	return stdout.String(), err
}

// fixture builds a directory holding a tar archive with a file, a
// directory, and a symbolic link.
func fixture(t *testing.T) (root, archivePath string) {
	t.Helper()
	t.Setenv("STRATA_CONFIG", "")
	root = t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"plain.txt":  "plain",
		".hidden":    "",
		"sub/deep.c": "int main;",
	})

	archivePath = filepath.Join(root, "bundle.tar")
	file, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	writer := tar.NewWriter(file)
	headers := []*tar.Header{
		{Name: "docs/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "docs/readme.md", Typeflag: tar.TypeReg, Mode: 0o644, Size: 8},
		{Name: "latest", Typeflag: tar.TypeSymlink, Linkname: "docs/readme.md"},
	}
	for _, header := range headers {
		if err := writer.WriteHeader(header); err != nil {
			t.Fatal(err)
		}
		if header.Size > 0 {
			writer.Write([]byte("# readme"))
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	file.Close()
	return root, archivePath
}

func TestListAndCat(t *testing.T) {
	root, archivePath := fixture(t)

	out, err := strata(t, "ls", root)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if out != "bundle.tar\nplain.txt\nsub\n" {
		t.Errorf("ls output = %q", out)
	}
	out, err = strata(t, "ls", "-a", root)
	if err != nil || !strings.Contains(out, ".hidden") {
		t.Errorf("ls -a = %q, %v; want the hidden entry", out, err)
	}

	out, err = strata(t, "ls", "-l", archivePath+"!/")
	if err != nil {
		t.Fatalf("ls -l inside the archive: %v", err)
	}
	if !strings.Contains(out, "docs") || !strings.Contains(out, "latest -> docs/readme.md") {
		t.Errorf("ls -l output = %q", out)
	}

	out, err = strata(t, "cat", filepath.Join(root, "plain.txt"), archivePath+"!/latest")
	if err != nil || out != "plain# readme" {
		t.Errorf("cat = %q, %v", out, err)
	}
}

func TestStatReadlinkSearch(t *testing.T) {
	root, archivePath := fixture(t)

	out, err := strata(t, "stat", archivePath+"!/docs/readme.md")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !strings.Contains(out, "type:     regular") || !strings.Contains(out, "size:     8") {
		t.Errorf("stat output = %q", out)
	}
	out, err = strata(t, "stat", "--no-follow", archivePath+"!/latest")
	if err != nil || !strings.Contains(out, "type:     symlink") {
		t.Errorf("stat --no-follow = %q, %v", out, err)
	}

	out, err = strata(t, "readlink", archivePath+"!/latest")
	if err != nil || out != "docs/readme.md\n" {
		t.Errorf("readlink = %q, %v", out, err)
	}

	out, err = strata(t, "search", root, "*.c")
	if err != nil || strings.TrimSpace(out) != filepath.Join(root, "sub", "deep.c") {
		t.Errorf("search = %q, %v", out, err)
	}
}

func TestCommandErrors(t *testing.T) {
	root, archivePath := fixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "no command"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"bad route", []string{"--via", "sideways", "ls", root}, "--via"},
		{"missing argument", []string{"readlink"}, "wrong number of arguments"},
		{"missing file", []string{"cat", filepath.Join(root, "absent")}, "cat:"},
		{"not a link", []string{"readlink", archivePath + "!/docs"}, "readlink:"},
		{"refresh plain path", []string{"refresh", root}, "refresh:"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := strata(t, test.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not mention %q", err, test.want)
			}
		})
	}
}

func TestViaRemoteHelper(t *testing.T) {
	root, archivePath := fixture(t)
	socketPath := filepath.Join(testutil.SocketDir(t), "remote.sock")

	// An already-running helper serving the local and archive providers.
	router, err := provider.NewRouter(localfs.New(localfs.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	registry := archive.NewRegistry(router, archive.Options{})
	t.Cleanup(func() { registry.Close() })
	if err := router.Register(archive.NewProvider(registry, router, nil)); err != nil {
		t.Fatal(err)
	}
	stub := remote.NewStub(router, registry, remote.StubOptions{})
	t.Cleanup(func() { stub.Close() })
	server := service.NewSocketServer(socketPath, nil)
	stub.Register(server)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-server.Ready()

	configPath := filepath.Join(t.TempDir(), "strata.yaml")
	content := "helper:\n" +
		"  runtime_dir: " + filepath.Dir(socketPath) + "\n" +
		"  remote_socket: " + socketPath + "\n" +
		"  root_socket: " + filepath.Join(filepath.Dir(socketPath), "root.sock") + "\n" +
		"  spawn_remote: false\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := strata(t, "--config", configPath, "--via", "remote", "cat", archivePath+"!/docs/readme.md")
	if err != nil || out != "# readme" {
		t.Errorf("cat through the helper = %q, %v", out, err)
	}
	out, err = strata(t, "--config", configPath, "--via", "remote", "search", root, "plain")
	if err != nil || !strings.HasPrefix(out, "remote-file:") {
		t.Errorf("search through the helper = %q, %v; want forwarded paths", out, err)
	}
	out, err = strata(t, "--config", configPath, "--via", "remote", "refresh", archivePath+"!/")
	if err != nil || out != "marked 1 archive filesystem(s) stale\n" {
		t.Errorf("refresh through the helper = %q, %v", out, err)
	}
}
