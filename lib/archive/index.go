// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"strings"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Index is the entry table and directory tree of one archive. An Index
// is immutable once built and safe for concurrent readers.
//
// Every entry's ancestor chain is present, every non-root directory
// appears exactly once among its parent's children, and the root is
// always present and listable.
type Index struct {
	key     fspath.Key
	format  Format
	entries map[string]*Entry
	tree    map[string][]fspath.Path
	order   []string
}

// BuildIndex builds an index from the flat member enumeration of an
// archive. Members with names that normalize to nothing are skipped.
// When two members normalize to the same path the later one wins; the
// path still appears once in its parent's children.
//
// Directories that members imply but the archive does not list are
// synthesized with zero size and zero times, up to the root.
func BuildIndex(key fspath.Key, format Format, members []Entry) *Index {
	index := &Index{
		key:     key,
		format:  format,
		entries: make(map[string]*Entry, len(members)+1),
		tree:    make(map[string][]fspath.Path),
	}
	root := fspath.Root(key)
	index.insert(&Entry{Path: root, Type: provider.TypeDirectory, Synthetic: true, ordinal: -1})

	for i := range members {
		member := members[i]
		path, isDirectory, ok := normalizeName(key, member.rawName)
		if !ok {
			continue
		}
		if isDirectory {
			member.Type = provider.TypeDirectory
		}
		member.Path = path
		member.Synthetic = false
		if member.HardLinkTarget != "" {
			member.HardLinkTarget = ""
			if target, _, ok := normalizeName(key, members[i].HardLinkTarget); ok && !target.IsRoot() {
				member.HardLinkTarget = target.String()
			}
		}
		if path.IsRoot() {
			// An explicit "./" member only contributes metadata to the
			// root; the root stays a directory.
			if member.IsDirectory() {
				index.entries[rootKey] = &member
			}
			continue
		}
		index.ensureParents(path)
		if !member.IsDirectory() && len(index.tree[path.String()]) > 0 {
			// A path with descendants stays a directory.
			continue
		}
		index.insert(&member)
	}

	index.resolveHardLinks()
	return index
}

const rootKey = fspath.Separator

// insert records entry, replacing any previous entry at the same path
// and adding the path to its parent's children only the first time.
func (index *Index) insert(entry *Entry) {
	key := entry.Path.String()
	_, existed := index.entries[key]
	index.entries[key] = entry
	if !existed {
		index.order = append(index.order, key)
		if parent, ok := entry.Path.Parent(); ok {
			parentKey := parent.String()
			index.tree[parentKey] = append(index.tree[parentKey], entry.Path)
		}
	}
	if entry.IsDirectory() {
		if _, ok := index.tree[key]; !ok {
			index.tree[key] = nil
		}
	}
}

// ensureParents synthesizes every missing ancestor of path, nearest
// the root first. An ancestor recorded as a non-directory member is
// replaced by a synthetic directory.
func (index *Index) ensureParents(path fspath.Path) {
	parent, ok := path.Parent()
	if !ok || parent.IsRoot() {
		return
	}
	if existing, exists := index.entries[parent.String()]; exists && existing.IsDirectory() {
		return
	}
	index.ensureParents(parent)
	index.insert(&Entry{Path: parent, Type: provider.TypeDirectory, Synthetic: true, ordinal: -1})
}

// resolveHardLinks points every hard link at its target's data. Links
// whose target is missing, or is itself a link, keep no data.
func (index *Index) resolveHardLinks() {
	for _, entry := range index.entries {
		if entry.HardLinkTarget == "" {
			continue
		}
		target, ok := index.entries[entry.HardLinkTarget]
		if !ok || target.HardLinkTarget != "" || target.Type != provider.TypeRegular {
			entry.ordinal = -1
			continue
		}
		entry.ordinal = target.ordinal
		entry.Size = target.Size
	}
}

// Key returns the archive filesystem key the index belongs to.
func (index *Index) Key() fspath.Key { return index.key }

// Format returns the detected archive format.
func (index *Index) Format() Format { return index.format }

// Len returns the number of entries, including the root and
// synthesized directories.
func (index *Index) Len() int { return len(index.entries) }

// Entry returns the entry at path. Relative paths are taken from the
// root; "." and ".." are normalized away.
func (index *Index) Entry(path fspath.Path) (Entry, bool) {
	entry, ok := index.entries[lookupKey(path)]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Children returns the child paths of directory, and false if
// directory has no tree node (it is missing or not a directory).
func (index *Index) Children(directory fspath.Path) ([]fspath.Path, bool) {
	children, ok := index.tree[lookupKey(directory)]
	if !ok {
		return nil, false
	}
	copied := make([]fspath.Path, len(children))
	copy(copied, children)
	return copied, true
}

// Walk calls visit for every entry in archive order, synthesized
// directories at the point they were first implied. Walk stops early
// if visit returns false.
func (index *Index) Walk(visit func(Entry) bool) {
	if root, ok := index.entries[rootKey]; ok && !visit(*root) {
		return
	}
	for _, key := range index.order {
		if key == rootKey {
			continue
		}
		if !visit(*index.entries[key]) {
			return
		}
	}
}

func lookupKey(path fspath.Path) string {
	if !path.IsAbsolute() {
		path = fspath.Root(path.Key()).Resolve(path)
	}
	return path.Normalize().String()
}

// normalizeName turns a raw member name into an absolute in-archive
// path. Backslashes become separators, a trailing separator marks a
// directory, leading "./" and "/" are dropped, and ".." cannot climb
// above the root. ok is false for names that normalize to nothing but
// do not name the root.
func normalizeName(key fspath.Key, raw string) (path fspath.Path, isDirectory bool, ok bool) {
	name := strings.ReplaceAll(raw, "\\", fspath.Separator)
	isDirectory = strings.HasSuffix(name, fspath.Separator)
	trimmed := strings.Trim(name, fspath.Separator)
	if trimmed == "" {
		return fspath.Path{}, false, false
	}
	path = fspath.Root(key).ResolveString(trimmed).Normalize()
	return path, isDirectory, true
}
