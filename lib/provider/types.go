// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/strata-fs/strata/lib/fspath"
)

// FileType is the type of a filesystem entry. Values are protocol
// constants.
type FileType uint8

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
	TypeOther
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// FileTypeOf maps the type bits of an fs.FileMode.
func FileTypeOf(mode fs.FileMode) FileType {
	switch {
	case mode.IsRegular():
		return TypeRegular
	case mode.IsDir():
		return TypeDirectory
	case mode&fs.ModeSymlink != 0:
		return TypeSymlink
	default:
		return TypeOther
	}
}

// Principal is a user or group owning a file. Name is empty when the
// backend knows only the numeric id.
type Principal struct {
	ID   uint32 `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// Attributes is the metadata of one filesystem entry. Times a backend
// cannot provide are zero; Mode is meaningful only when HasMode is set.
type Attributes struct {
	Type         FileType    `cbor:"type"`
	Size         int64       `cbor:"size"`
	ModTime      time.Time   `cbor:"mod_time"`
	AccessTime   time.Time   `cbor:"access_time"`
	CreationTime time.Time   `cbor:"creation_time"`
	Mode         fs.FileMode `cbor:"mode"`
	HasMode      bool        `cbor:"has_mode"`
	Owner        *Principal  `cbor:"owner,omitempty"`
	Group        *Principal  `cbor:"group,omitempty"`

	// FileKey is a stable identifier of the underlying object, equal
	// for two paths naming the same file. Empty if unknown.
	FileKey string `cbor:"file_key,omitempty"`
}

func (a Attributes) IsRegular() bool   { return a.Type == TypeRegular }
func (a Attributes) IsDirectory() bool { return a.Type == TypeDirectory }
func (a Attributes) IsSymlink() bool   { return a.Type == TypeSymlink }

// AttributeUpdate names the attributes WriteAttributes changes. Nil
// fields are left alone.
type AttributeUpdate struct {
	ModTime      *time.Time   `cbor:"mod_time,omitempty"`
	AccessTime   *time.Time   `cbor:"access_time,omitempty"`
	CreationTime *time.Time   `cbor:"creation_time,omitempty"`
	Mode         *fs.FileMode `cbor:"mode,omitempty"`
	OwnerID      *uint32      `cbor:"owner_id,omitempty"`
	GroupID      *uint32      `cbor:"group_id,omitempty"`
	Link         LinkOption   `cbor:"link"`
}

// IsEmpty reports whether the update changes nothing.
func (u AttributeUpdate) IsEmpty() bool {
	return u.ModTime == nil && u.AccessTime == nil && u.CreationTime == nil &&
		u.Mode == nil && u.OwnerID == nil && u.GroupID == nil
}

// FileStore describes the storage a path lives on.
type FileStore struct {
	Name        string `cbor:"name"`
	Type        string `cbor:"type"`
	ReadOnly    bool   `cbor:"read_only"`
	TotalSpace  int64  `cbor:"total_space"`
	FreeSpace   int64  `cbor:"free_space"`
	UsableSpace int64  `cbor:"usable_space"`
}

// LinkOption selects whether an operation follows a trailing symbolic
// link.
type LinkOption uint8

const (
	FollowLinks LinkOption = iota
	NoFollowLinks
)

// OpenMode is a set of flags for opening a byte stream or channel.
type OpenMode uint16

const (
	OpenRead OpenMode = 1 << iota
	OpenWrite
	OpenAppend
	OpenCreate
	OpenCreateNew
	OpenTruncate
)

// Writes reports whether the mode can modify the file.
func (m OpenMode) Writes() bool {
	return m&(OpenWrite|OpenAppend|OpenCreate|OpenCreateNew|OpenTruncate) != 0
}

// AccessMode is a set of access checks. The zero value checks only
// existence.
type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
	AccessExecute
)

// CopyOptions controls Copy and Move.
type CopyOptions struct {
	ReplaceExisting bool       `cbor:"replace_existing"`
	CopyAttributes  bool       `cbor:"copy_attributes"`
	Link            LinkOption `cbor:"link"`
}

// ChangeKind classifies a change notification.
type ChangeKind uint8

const (
	ChangeCreated ChangeKind = iota
	ChangeDeleted
	ChangeModified

	// ChangeOverflow means events were dropped; the watcher's
	// directory must be rescanned.
	ChangeOverflow
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeDeleted:
		return "deleted"
	case ChangeModified:
		return "modified"
	default:
		return "overflow"
	}
}

// ChangeEvent reports a change to Path, which is a child of the
// watched directory (or the directory itself for ChangeOverflow).
type ChangeEvent struct {
	Kind ChangeKind  `cbor:"kind"`
	Path fspath.Path `cbor:"path"`
}

// ByteStream is a sequential stream over a file's bytes.
type ByteStream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Channel is a seekable ByteStream with a known size.
type Channel interface {
	ByteStream
	io.Seeker
	Size() (int64, error)
}

// Watcher delivers change notifications for one directory.
type Watcher interface {
	// Next blocks until at least one event is available, ctx is done,
	// or the watcher is closed (ErrClosed).
	Next(ctx context.Context) ([]ChangeEvent, error)
	Close() error
}

// SearchFunc receives one batch of search results.
type SearchFunc func(results []fspath.Path)
