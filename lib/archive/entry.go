// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"io/fs"
	"time"

	"github.com/zeebo/blake3"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Entry is the metadata of one member of an archive. Entries returned
// by a FileSystem are copies; mutating one has no effect on the index.
type Entry struct {
	// Path is the absolute in-archive path. Its key is the archive
	// filesystem's key.
	Path fspath.Path

	Type provider.FileType
	Size int64

	// Times the format does not record are zero.
	ModTime      time.Time
	AccessTime   time.Time
	CreationTime time.Time

	// Mode holds permission and setuid/setgid/sticky bits, valid only
	// when HasMode is set.
	Mode    fs.FileMode
	HasMode bool

	Owner *provider.Principal
	Group *provider.Principal

	// LinkTarget is the raw target of a symbolic link.
	LinkTarget string

	// HardLinkTarget is the in-archive path a tar hard link refers
	// to. Reading the entry reads the target's data.
	HardLinkTarget string

	// Synthetic marks a directory the archive does not list but whose
	// existence is implied by a descendant.
	Synthetic bool

	// rawName is the member name as the decoder reported it.
	rawName string

	// ordinal locates the member's data for reopening: the zip file
	// index or the tar header sequence number. -1 when the entry has
	// no data of its own.
	ordinal int
}

// Name returns the last segment of the entry's path.
func (e Entry) Name() string { return e.Path.Name() }

func (e Entry) IsDirectory() bool { return e.Type == provider.TypeDirectory }
func (e Entry) IsSymlink() bool   { return e.Type == provider.TypeSymlink }

// fileKeyDomain separates archive entry keys from any other BLAKE3
// keyed hash. The bytes are the ASCII of the domain name, zero-padded.
var fileKeyDomain = [32]byte{
	's', 't', 'r', 'a', 't', 'a', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
	'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// FileKey returns a stable identifier for the entry: a keyed BLAKE3
// hash of the archive URI and the in-archive path. Two paths naming the
// same member (through different spellings or a hard link) share it.
func (e Entry) FileKey() string {
	hasher, err := blake3.NewKeyed(fileKeyDomain[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.WriteString(e.Path.Key().Archive)
	hasher.WriteString("\x00")
	if e.HardLinkTarget != "" {
		hasher.WriteString(e.HardLinkTarget)
	} else {
		hasher.WriteString(e.Path.String())
	}
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

// Attributes converts the entry into the provider attribute form.
func (e Entry) Attributes() provider.Attributes {
	return provider.Attributes{
		Type:         e.Type,
		Size:         e.Size,
		ModTime:      e.ModTime,
		AccessTime:   e.AccessTime,
		CreationTime: e.CreationTime,
		Mode:         e.Mode,
		HasMode:      e.HasMode,
		Owner:        e.Owner,
		Group:        e.Group,
		FileKey:      e.FileKey(),
	}
}
