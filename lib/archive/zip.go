// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/strata-fs/strata/lib/provider"
)

// Zip "version made by" host systems whose external attributes carry
// Unix mode bits.
const (
	zipCreatorUnix   = 3
	zipCreatorMacOSX = 19
)

// maxLinkTargetLength bounds how much of a zip symlink member is read
// as its target.
const maxLinkTargetLength = 4096

// specialModeBits are the mode bits beyond permissions an entry keeps.
const specialModeBits = fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

func newZipReader(source io.ReaderAt, size int64) (*zip.Reader, error) {
	reader, err := zip.NewReader(source, size)
	if err != nil {
		return nil, err
	}
	reader.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	reader.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())
	return reader, nil
}

// readZipMembers enumerates the central directory. Symbolic link
// members store their target as content, so each one is read here.
func readZipMembers(ctx context.Context, source io.ReaderAt, size int64) ([]Entry, error) {
	reader, err := newZipReader(source, size)
	if err != nil {
		return nil, err
	}

	members := make([]Entry, 0, len(reader.File))
	for ordinal, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header := file.FileHeader
		mode := header.Mode()
		member := Entry{
			rawName: header.Name,
			Size:    int64(header.UncompressedSize64),
			ModTime: header.Modified,
			ordinal: ordinal,
		}
		switch creator := header.CreatorVersion >> 8; creator {
		case zipCreatorUnix, zipCreatorMacOSX:
			member.Mode = mode.Perm() | mode&specialModeBits
			member.HasMode = true
		}

		switch {
		case mode.IsDir() || strings.HasSuffix(header.Name, "/"):
			member.Type = provider.TypeDirectory
			member.Size = 0
		case mode&fs.ModeSymlink != 0:
			target, err := readZipLinkTarget(file)
			if err != nil {
				return nil, fmt.Errorf("reading link target of %q: %w", header.Name, err)
			}
			member.Type = provider.TypeSymlink
			member.LinkTarget = target
		case mode.IsRegular():
			member.Type = provider.TypeRegular
		default:
			member.Type = provider.TypeOther
		}
		members = append(members, member)
	}
	return members, nil
}

func readZipLinkTarget(file *zip.File) (string, error) {
	content, err := file.Open()
	if err != nil {
		return "", err
	}
	defer content.Close()
	target, err := io.ReadAll(io.LimitReader(content, maxLinkTargetLength))
	if err != nil {
		return "", err
	}
	return string(target), nil
}

// openZipMember opens the decompressed content of member ordinal.
func openZipMember(source io.ReaderAt, size int64, ordinal int) (io.ReadCloser, error) {
	reader, err := newZipReader(source, size)
	if err != nil {
		return nil, err
	}
	if ordinal < 0 || ordinal >= len(reader.File) {
		return nil, fmt.Errorf("zip member %d out of range (archive has %d members)", ordinal, len(reader.File))
	}
	return reader.File[ordinal].Open()
}
