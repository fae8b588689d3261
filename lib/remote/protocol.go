// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"io/fs"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Provider actions, one per provider.Provider method.
const (
	ActionLookup            = "provider.lookup"
	ActionToRealPath        = "provider.to_real_path"
	ActionListChildren      = "provider.list_children"
	ActionOpenByteStream    = "provider.open_byte_stream"
	ActionOpenChannel       = "provider.open_channel"
	ActionCreateDirectory   = "provider.create_directory"
	ActionCreateFile        = "provider.create_file"
	ActionCreateSymlink     = "provider.create_symlink"
	ActionCreateLink        = "provider.create_link"
	ActionDelete            = "provider.delete"
	ActionCopy              = "provider.copy"
	ActionMove              = "provider.move"
	ActionReadSymlinkTarget = "provider.read_symlink_target"
	ActionCheckAccess       = "provider.check_access"
	ActionReadAttributes    = "provider.read_attributes"
	ActionWriteAttributes   = "provider.write_attributes"
	ActionGetFileStore      = "provider.get_file_store"
	ActionIsSameFile        = "provider.is_same_file"
	ActionIsHidden          = "provider.is_hidden"
	ActionSearch            = "provider.search"
	ActionWatch             = "provider.watch"
)

// Archive filesystem, attribute view, task, and session actions.
// Stream and watch handle actions are defined by lib/parcel.
const (
	ActionFileSystemOpen    = "filesystem.open"
	ActionFileSystemClose   = "filesystem.close"
	ActionFileSystemRefresh = "filesystem.refresh"
	ActionAttributesView    = "attributes.view"
	ActionAttributesRead    = "attributes.read"
	ActionAttributesWrite   = "attributes.write"
	ActionTaskWait          = "task.wait"
	ActionTaskCancel        = "task.cancel"
	ActionSessionLink       = "session.link"
)

// request is the union of every action's fields. Each action reads the
// ones it needs; the client sends only those.
type request struct {
	Session string                   `cbor:"session"`
	Handle  string                   `cbor:"handle,omitempty"`
	Scheme  string                   `cbor:"scheme,omitempty"`
	Path    fspath.Path              `cbor:"path"`
	Other   fspath.Path              `cbor:"other"`
	Target  string                   `cbor:"target,omitempty"`
	Mode    provider.OpenMode        `cbor:"mode,omitempty"`
	Perm    fs.FileMode              `cbor:"perm,omitempty"`
	Options provider.CopyOptions     `cbor:"options"`
	Access  provider.AccessMode      `cbor:"access,omitempty"`
	Link    provider.LinkOption      `cbor:"link,omitempty"`
	Update  provider.AttributeUpdate `cbor:"update"`
	Query   string                   `cbor:"query,omitempty"`
	Size    int                      `cbor:"size,omitempty"`
	Data    []byte                   `cbor:"data,omitempty"`
	Offset  int64                    `cbor:"offset,omitempty"`
	Whence  int                      `cbor:"whence,omitempty"`
}

// TaskStatus is the answer to task.wait. Done is false when the wait
// timed out with the task still running. A failed task answers with
// its failure instead.
type TaskStatus struct {
	Done bool `cbor:"done"`
}

// AttributeViewInfo describes the attributes a path's backend can read
// and write. Name is "posix" when mode and ownership are available and
// "basic" otherwise.
type AttributeViewInfo struct {
	Name     string `cbor:"name"`
	ReadOnly bool   `cbor:"read_only"`
}
