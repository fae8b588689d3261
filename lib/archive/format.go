// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format is an archive container format. Values are protocol
// constants: they appear in file-store descriptions sent to clients.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarLZ4
	FormatTarBzip2
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarLZ4:
		return "tar.lz4"
	case FormatTarBzip2:
		return "tar.bz2"
	default:
		return "unknown"
	}
}

// sniffLength is how much of an archive DetectFormat looks at. It
// matches mimetype's default read limit.
const sniffLength = 3072

// lz4FrameMagic starts every LZ4 frame. mimetype does not detect LZ4.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4d, 0x18}

// DetectFormat identifies the format of an archive from its leading
// bytes, falling back to the file name's extension when the content is
// not recognized. Compressed streams are assumed to wrap a tar archive.
func DetectFormat(head []byte, name string) (Format, error) {
	for detected := mimetype.Detect(head); detected != nil; detected = detected.Parent() {
		switch {
		case detected.Is("application/zip"):
			return FormatZip, nil
		case detected.Is("application/x-tar"):
			return FormatTar, nil
		case detected.Is("application/gzip"):
			return FormatTarGzip, nil
		case detected.Is("application/zstd"):
			return FormatTarZstd, nil
		case detected.Is("application/x-bzip2"):
			return FormatTarBzip2, nil
		}
	}
	if bytes.HasPrefix(head, lz4FrameMagic) {
		return FormatTarLZ4, nil
	}
	if format := formatFromName(name); format != FormatUnknown {
		return format, nil
	}
	return FormatUnknown, fmt.Errorf("unrecognized archive format (%s)", mimetype.Detect(head).String())
}

var extensionFormats = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGzip},
	{".tgz", FormatTarGzip},
	{".tar.zst", FormatTarZstd},
	{".tzst", FormatTarZstd},
	{".tar.lz4", FormatTarLZ4},
	{".tar.bz2", FormatTarBzip2},
	{".tbz2", FormatTarBzip2},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".jar", FormatZip},
	{".apk", FormatZip},
}

func formatFromName(name string) Format {
	lower := strings.ToLower(name)
	for _, candidate := range extensionFormats {
		if strings.HasSuffix(lower, candidate.suffix) {
			return candidate.format
		}
	}
	return FormatUnknown
}

// IsArchiveName reports whether name has an extension Strata treats as
// an archive. Used to decide whether a local file can be entered as a
// directory.
func IsArchiveName(name string) bool {
	return formatFromName(name) != FormatUnknown
}
