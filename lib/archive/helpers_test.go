// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

var testTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// memorySource serves archive bytes from memory, keyed by the string
// form of the archive path. Its channels deliberately do not implement
// io.ReaderAt, so the zip path goes through seekingReaderAt.
type memorySource struct {
	mu    sync.Mutex
	files map[string][]byte
	opens atomic.Int64
}

func newMemorySource() *memorySource {
	return &memorySource{files: make(map[string][]byte)}
}

func (s *memorySource) put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

func (s *memorySource) OpenChannel(ctx context.Context, path fspath.Path) (provider.Channel, error) {
	s.opens.Add(1)
	s.mu.Lock()
	data, ok := s.files[path.String()]
	s.mu.Unlock()
	if !ok {
		return nil, provider.NewError("open", path, provider.ErrNotFound)
	}
	return &memoryChannel{reader: bytes.NewReader(data)}, nil
}

type memoryChannel struct {
	reader *bytes.Reader
}

func (c *memoryChannel) Read(buffer []byte) (int, error) { return c.reader.Read(buffer) }
func (c *memoryChannel) Write([]byte) (int, error)       { return 0, provider.ErrReadOnly }
func (c *memoryChannel) Seek(offset int64, whence int) (int64, error) {
	return c.reader.Seek(offset, whence)
}
func (c *memoryChannel) Size() (int64, error) { return c.reader.Size(), nil }
func (c *memoryChannel) Close() error         { return nil }

// member describes one archive member for the builders below. A name
// ending in "/" is a directory.
type member struct {
	name     string
	content  string
	mode     fs.FileMode
	symlink  string
	hardLink string
}

func buildZip(t *testing.T, members []member) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for _, m := range members {
		header := &zip.FileHeader{Name: m.name, Method: zip.Deflate, Modified: testTime}
		switch {
		case m.symlink != "":
			header.SetMode(fs.ModeSymlink | 0o777)
		case m.mode != 0:
			header.SetMode(m.mode)
		}
		if len(m.name) > 0 && m.name[len(m.name)-1] == '/' {
			header.Method = zip.Store
		}
		content, err := writer.CreateHeader(header)
		if err != nil {
			t.Fatalf("creating zip member %q: %v", m.name, err)
		}
		body := m.content
		if m.symlink != "" {
			body = m.symlink
		}
		if _, err := io.WriteString(content, body); err != nil {
			t.Fatalf("writing zip member %q: %v", m.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buffer.Bytes()
}

func buildTar(t *testing.T, members []member) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, m := range members {
		header := &tar.Header{
			Name:     m.name,
			Mode:     0o644,
			ModTime:  testTime,
			Uid:      1000,
			Gid:      100,
			Uname:    "builder",
			Gname:    "users",
			Typeflag: tar.TypeReg,
			Size:     int64(len(m.content)),
		}
		if m.mode != 0 {
			header.Mode = int64(m.mode.Perm())
		}
		switch {
		case m.symlink != "":
			header.Typeflag = tar.TypeSymlink
			header.Linkname = m.symlink
			header.Size = 0
		case m.hardLink != "":
			header.Typeflag = tar.TypeLink
			header.Linkname = m.hardLink
			header.Size = 0
		case len(m.name) > 0 && m.name[len(m.name)-1] == '/':
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
			header.Size = 0
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("writing tar header %q: %v", m.name, err)
		}
		if header.Size > 0 {
			if _, err := io.WriteString(writer, m.content); err != nil {
				t.Fatalf("writing tar member %q: %v", m.name, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	return buffer.Bytes()
}

// compress wraps data in the compressor of a tar format.
func compress(t *testing.T, format Format, data []byte) []byte {
	t.Helper()
	var buffer bytes.Buffer
	var writer io.WriteCloser
	switch format {
	case FormatTar:
		return data
	case FormatTarGzip:
		writer = gzip.NewWriter(&buffer)
	case FormatTarZstd:
		encoder, err := zstd.NewWriter(&buffer)
		if err != nil {
			t.Fatalf("creating zstd writer: %v", err)
		}
		writer = encoder
	case FormatTarLZ4:
		writer = lz4.NewWriter(&buffer)
	default:
		t.Fatalf("no test compressor for %s", format)
	}
	if _, err := writer.Write(data); err != nil {
		t.Fatalf("compressing %s: %v", format, err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing %s writer: %v", format, err)
	}
	return buffer.Bytes()
}

// newTestFileSystem registers data as archivePath on a fresh source
// and returns a filesystem over it.
func newTestFileSystem(t *testing.T, archivePath string, data []byte) (*FileSystem, *memorySource) {
	t.Helper()
	source := newMemorySource()
	source.put(archivePath, data)
	filesystem, err := NewFileSystem(archiveKey(t, archivePath), source, Options{})
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	t.Cleanup(func() { filesystem.Close() })
	return filesystem, source
}

func archiveKey(t *testing.T, archivePath string) fspath.Key {
	t.Helper()
	key, err := fspath.ArchiveKey(fspath.Parse(fspath.FileKey, archivePath))
	if err != nil {
		t.Fatalf("ArchiveKey(%q): %v", archivePath, err)
	}
	return key
}

// childNames lists directory and returns the sorted child names.
func childNames(t *testing.T, filesystem *FileSystem, directory string) []string {
	t.Helper()
	children, err := filesystem.ListChildren(context.Background(), fspath.Parse(filesystem.Key(), directory))
	if err != nil {
		t.Fatalf("ListChildren(%q): %v", directory, err)
	}
	names := make([]string, len(children))
	for i, child := range children {
		names[i] = child.Name()
	}
	sort.Strings(names)
	return names
}

func readAll(t *testing.T, filesystem *FileSystem, path string) string {
	t.Helper()
	stream, err := filesystem.OpenByteStream(context.Background(), fspath.Parse(filesystem.Key(), path))
	if err != nil {
		t.Fatalf("OpenByteStream(%q): %v", path, err)
	}
	defer stream.Close()
	content, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading %q: %v", path, err)
	}
	return string(content)
}

func bytesReader(data []byte) io.Reader { return bytes.NewReader(data) }
