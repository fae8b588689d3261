// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/strata-fs/strata/lib/provider"
)

// tarBufferSize sizes the buffered reader between the source channel
// and the decompressor.
const tarBufferSize = 64 * 1024

// decompress wraps source in the decompressor for format. Closing the
// result releases the decompressor but not source.
func decompress(format Format, source io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReaderSize(source, tarBufferSize)
	switch format {
	case FormatTar:
		return io.NopCloser(buffered), nil
	case FormatTarGzip:
		return gzip.NewReader(buffered)
	case FormatTarZstd:
		decoder, err := zstd.NewReader(buffered, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case FormatTarLZ4:
		return io.NopCloser(lz4.NewReader(buffered)), nil
	case FormatTarBzip2:
		return io.NopCloser(bzip2.NewReader(buffered)), nil
	default:
		return nil, fmt.Errorf("%s is not a tar format", format)
	}
}

// readTarMembers enumerates every header of a tar stream. Ordinals
// count every header the reader returns, including skipped ones, so
// openTarMember can find a member again by counting.
func readTarMembers(ctx context.Context, format Format, source io.Reader) ([]Entry, error) {
	stream, err := decompress(format, source)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	reader := tar.NewReader(stream)
	var members []Entry
	for ordinal := 0; ; ordinal++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return members, nil
		}
		if err != nil {
			return nil, err
		}
		if member, ok := tarMember(header, ordinal); ok {
			members = append(members, member)
		}
	}
}

func tarMember(header *tar.Header, ordinal int) (Entry, bool) {
	mode := header.FileInfo().Mode()
	member := Entry{
		rawName:    header.Name,
		Size:       header.Size,
		ModTime:    header.ModTime,
		AccessTime: header.AccessTime,
		Mode:       mode.Perm() | mode&specialModeBits,
		HasMode:    true,
		Owner:      &provider.Principal{ID: uint32(header.Uid), Name: header.Uname},
		Group:      &provider.Principal{ID: uint32(header.Gid), Name: header.Gname},
		ordinal:    ordinal,
	}
	switch header.Typeflag {
	case tar.TypeDir:
		member.Type = provider.TypeDirectory
		member.Size = 0
	case tar.TypeSymlink:
		member.Type = provider.TypeSymlink
		member.LinkTarget = header.Linkname
		member.Size = int64(len(header.Linkname))
	case tar.TypeLink:
		member.Type = provider.TypeRegular
		member.HardLinkTarget = header.Linkname
	case tar.TypeReg, tar.TypeGNUSparse, tar.TypeCont:
		member.Type = provider.TypeRegular
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		member.Type = provider.TypeOther
		member.Size = 0
	default:
		// Global PAX headers and vendor extensions carry no member.
		return Entry{}, false
	}
	return member, true
}

// openTarMember decompresses source and advances to header ordinal.
// Closing the result releases the decompressor but not source.
func openTarMember(format Format, source io.Reader, ordinal int) (io.ReadCloser, error) {
	stream, err := decompress(format, source)
	if err != nil {
		return nil, err
	}
	reader := tar.NewReader(stream)
	for index := 0; index <= ordinal; index++ {
		if _, err := reader.Next(); err != nil {
			stream.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tar member %d missing: archive ended early", ordinal)
			}
			return nil, err
		}
	}
	return struct {
		io.Reader
		io.Closer
	}{reader, stream}, nil
}
