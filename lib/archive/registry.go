// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"sync"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Registry maps archive keys to live filesystems, so every caller
// reading one archive shares a single index. It is owned by the
// composition root; independent registries do not interact.
type Registry struct {
	source  Source
	options Options

	mu          sync.Mutex
	filesystems map[fspath.Key]*FileSystem
	closed      bool
}

// NewRegistry returns an empty registry whose filesystems read their
// archives through source.
func NewRegistry(source Source, options Options) *Registry {
	return &Registry{
		source:      source,
		options:     options.withDefaults(),
		filesystems: make(map[fspath.Key]*FileSystem),
	}
}

// GetOrCreate returns the live filesystem for key, creating it if
// there is none or the registered one has been closed. At most one live
// instance per key is ever observable.
func (r *Registry) GetOrCreate(key fspath.Key) (*FileSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(key)
}

func (r *Registry) getOrCreateLocked(key fspath.Key) (*FileSystem, error) {
	if r.closed {
		return nil, &provider.Error{Op: "open_filesystem", Path: key.String(), Kind: provider.KindClosed, Err: provider.ErrClosed}
	}
	if existing, ok := r.filesystems[key]; ok && !existing.IsClosed() {
		return existing, nil
	}
	if !key.IsArchive() {
		return nil, &provider.Error{Op: "open_filesystem", Path: key.String(), Kind: provider.KindUnsupported, Err: fmt.Errorf("key %s does not name an archive", key)}
	}
	filesystem, err := NewFileSystem(key, r.source, r.options)
	if err != nil {
		return nil, err
	}
	filesystem.registry = r
	r.filesystems[key] = filesystem
	return filesystem, nil
}

// Lookup returns the live filesystem for key without creating one.
func (r *Registry) Lookup(key fspath.Key) (*FileSystem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filesystem, ok := r.filesystems[key]
	if !ok || filesystem.IsClosed() {
		return nil, false
	}
	return filesystem, true
}

// Open is GetOrCreate plus a reference held by the caller. Each Open
// is paired with a Release.
func (r *Registry) Open(key fspath.Key) (*FileSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filesystem, err := r.getOrCreateLocked(key)
	if err != nil {
		return nil, err
	}
	filesystem.references++
	return filesystem, nil
}

// Release drops a reference taken by Open. The last release closes and
// unregisters the filesystem.
func (r *Registry) Release(filesystem *FileSystem) error {
	r.mu.Lock()
	if filesystem.references <= 0 {
		r.mu.Unlock()
		return fmt.Errorf("releasing archive filesystem %s: no references held", filesystem.key)
	}
	filesystem.references--
	last := filesystem.references == 0
	r.mu.Unlock()

	if last {
		return filesystem.Close()
	}
	return nil
}

// Remove unregisters instance, but only if it is still the instance
// registered for key. A newer instance that replaced it stays.
func (r *Registry) Remove(key fspath.Key, instance *FileSystem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.filesystems[key]; ok && current == instance {
		delete(r.filesystems, key)
		return true
	}
	return false
}

// MarkStaleTree marks the filesystem for key stale together with every
// registered archive whose backing file lives inside it, at any depth.
// Returns the number of filesystems marked.
func (r *Registry) MarkStaleTree(key fspath.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := map[fspath.Key]bool{key: true}
	for grew := true; grew; {
		grew = false
		for candidate, filesystem := range r.filesystems {
			if !affected[candidate] && affected[filesystem.archive.Key()] {
				affected[candidate] = true
				grew = true
			}
		}
	}

	marked := 0
	for candidate := range affected {
		if filesystem, ok := r.filesystems[candidate]; ok {
			filesystem.MarkStale()
			marked++
		}
	}
	return marked
}

// Len returns the number of registered filesystems.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filesystems)
}

// Close closes every registered filesystem. Later GetOrCreate and Open
// calls fail with provider.ErrClosed. Closing twice is harmless.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	filesystems := make([]*FileSystem, 0, len(r.filesystems))
	for _, filesystem := range r.filesystems {
		filesystems = append(filesystems, filesystem)
	}
	clear(r.filesystems)
	r.mu.Unlock()

	for _, filesystem := range filesystems {
		filesystem.Close()
	}
	return nil
}
