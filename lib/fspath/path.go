// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package fspath

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Separator is the only segment separator of every Strata filesystem.
const Separator = "/"

// Schemes understood by the built-in providers. Forwarded filesystems
// use these with RemotePrefix prepended.
const (
	SchemeFile    = "file"
	SchemeArchive = "archive"

	// RemotePrefix marks a scheme served through a helper process.
	// "remote-archive" is the forwarded form of "archive".
	RemotePrefix = "remote-"
)

// archiveQueryParameter carries Key.Archive in the URI form.
const archiveQueryParameter = "archive"

// Key identifies the filesystem a path belongs to.
type Key struct {
	// Scheme selects the provider: "file", "archive", or a
	// RemotePrefix form of either.
	Scheme string

	// Archive is the URI of the backing archive file for archive
	// filesystems (local or forwarded). Empty for every other scheme.
	Archive string
}

// FileKey is the key of the local filesystem.
var FileKey = Key{Scheme: SchemeFile}

// ArchiveKey returns the key of the archive filesystem backed by the
// archive file at archive. The archive path must be absolute.
func ArchiveKey(archive Path) (Key, error) {
	if !archive.absolute {
		return Key{}, fmt.Errorf("archive path %q is not absolute", archive.String())
	}
	return Key{Scheme: SchemeArchive, Archive: archive.URI()}, nil
}

// IsArchive reports whether the key names an archive filesystem,
// local or forwarded.
func (k Key) IsArchive() bool {
	return k.Archive != ""
}

// ArchivePath parses Archive back into the path of the backing archive.
func (k Key) ArchivePath() (Path, error) {
	if k.Archive == "" {
		return Path{}, fmt.Errorf("key %s has no backing archive", k)
	}
	return ParseURI(k.Archive)
}

// WithScheme returns a copy of the key with a different scheme.
func (k Key) WithScheme(scheme string) Key {
	k.Scheme = scheme
	return k
}

// String returns "scheme" or "scheme[archive]".
func (k Key) String() string {
	if k.Archive == "" {
		return k.Scheme
	}
	return k.Scheme + "[" + k.Archive + "]"
}

// Path is an immutable, filesystem-scoped sequence of segments. The
// zero value is an empty relative path with an empty key.
type Path struct {
	key      Key
	absolute bool
	segments []string
}

// Parse splits raw on Separator. A leading separator makes the path
// absolute. Empty segments are dropped; "." and ".." are kept.
func Parse(key Key, raw string) Path {
	path := Path{key: key, absolute: strings.HasPrefix(raw, Separator)}
	for _, segment := range strings.Split(raw, Separator) {
		if segment != "" {
			path.segments = append(path.segments, segment)
		}
	}
	return path
}

// Root returns the absolute root path of the filesystem identified by
// key.
func Root(key Key) Path {
	return Path{key: key, absolute: true}
}

// FromSegments builds a path from already-split segments. Segments must
// be non-empty and must not contain the separator.
func FromSegments(key Key, absolute bool, segments ...string) (Path, error) {
	for _, segment := range segments {
		if segment == "" {
			return Path{}, errors.New("empty path segment")
		}
		if strings.Contains(segment, Separator) {
			return Path{}, fmt.Errorf("path segment %q contains %q", segment, Separator)
		}
	}
	return Path{key: key, absolute: absolute, segments: clone(segments)}, nil
}

// Key returns the key of the owning filesystem.
func (p Path) Key() Key { return p.key }

// IsAbsolute reports whether the path starts at the filesystem root.
func (p Path) IsAbsolute() bool { return p.absolute }

// IsRoot reports whether the path is the absolute root.
func (p Path) IsRoot() bool { return p.absolute && len(p.segments) == 0 }

// IsEmpty reports whether the path is the empty relative path.
func (p Path) IsEmpty() bool { return !p.absolute && len(p.segments) == 0 }

// NameCount returns the number of segments.
func (p Path) NameCount() int { return len(p.segments) }

// Segment returns segment i. Panics if i is out of range.
func (p Path) Segment(i int) string { return p.segments[i] }

// Segments returns a copy of the segments.
func (p Path) Segments() []string { return clone(p.segments) }

// Name returns the last segment, or "" for the root and the empty path.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its last segment. ok is false for the
// root and for a relative path with a single segment or none.
func (p Path) Parent() (parent Path, ok bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	if !p.absolute && len(p.segments) == 1 {
		return Path{}, false
	}
	return Path{key: p.key, absolute: p.absolute, segments: clone(p.segments[:len(p.segments)-1])}, true
}

// Child appends name, which may itself contain separators.
func (p Path) Child(name string) Path {
	return p.ResolveString(name)
}

// Resolve joins other onto p. An absolute other is returned unchanged;
// a relative other is appended and takes p's key.
func (p Path) Resolve(other Path) Path {
	if other.absolute {
		return other
	}
	if len(other.segments) == 0 {
		return p
	}
	segments := make([]string, 0, len(p.segments)+len(other.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, other.segments...)
	return Path{key: p.key, absolute: p.absolute, segments: segments}
}

// ResolveString parses raw against p's key and resolves it.
func (p Path) ResolveString(raw string) Path {
	return p.Resolve(Parse(p.key, raw))
}

// Relativize returns the relative path that, resolved against p, yields
// other. Both paths must share a key and an absolute flag.
func (p Path) Relativize(other Path) (Path, error) {
	if p.key != other.key {
		return Path{}, fmt.Errorf("cannot relativize %s against a path on %s", other, p.key)
	}
	if p.absolute != other.absolute {
		return Path{}, fmt.Errorf("cannot relativize %q against %q: mixed absolute and relative", other, p)
	}
	common := 0
	for common < len(p.segments) && common < len(other.segments) && p.segments[common] == other.segments[common] {
		common++
	}
	var segments []string
	for range p.segments[common:] {
		segments = append(segments, "..")
	}
	segments = append(segments, other.segments[common:]...)
	return Path{key: p.key, segments: segments}, nil
}

// Normalize removes "." segments and folds ".." into the preceding
// segment. For absolute paths a ".." at the root is dropped; for
// relative paths leading ".." segments are kept.
func (p Path) Normalize() Path {
	segments := make([]string, 0, len(p.segments))
	for _, segment := range p.segments {
		switch segment {
		case ".":
		case "..":
			if len(segments) > 0 && segments[len(segments)-1] != ".." {
				segments = segments[:len(segments)-1]
			} else if !p.absolute {
				segments = append(segments, segment)
			}
		default:
			segments = append(segments, segment)
		}
	}
	return Path{key: p.key, absolute: p.absolute, segments: segments}
}

// StartsWith reports whether other is a prefix of p on the same
// filesystem, segment by segment.
func (p Path) StartsWith(other Path) bool {
	if p.key != other.key || p.absolute != other.absolute || len(other.segments) > len(p.segments) {
		return false
	}
	for i, segment := range other.segments {
		if p.segments[i] != segment {
			return false
		}
	}
	return true
}

// Equal reports whether the paths have the same key, absolute flag,
// and segments.
func (p Path) Equal(other Path) bool {
	if p.key != other.key || p.absolute != other.absolute || len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare orders paths by scheme, archive, relative-before-absolute,
// then segment by segment. Returns -1, 0, or +1.
func (p Path) Compare(other Path) int {
	if c := strings.Compare(p.key.Scheme, other.key.Scheme); c != 0 {
		return c
	}
	if c := strings.Compare(p.key.Archive, other.key.Archive); c != 0 {
		return c
	}
	if p.absolute != other.absolute {
		if p.absolute {
			return 1
		}
		return -1
	}
	for i := 0; i < len(p.segments) && i < len(other.segments); i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	}
	return 0
}

// WithKey returns the same segments on a different filesystem.
func (p Path) WithKey(key Key) Path {
	return Path{key: key, absolute: p.absolute, segments: clone(p.segments)}
}

// String returns the separator-joined form, with a leading separator
// for absolute paths. The key is not included; use URI for that.
func (p Path) String() string {
	joined := strings.Join(p.segments, Separator)
	if p.absolute {
		return Separator + joined
	}
	return joined
}

// URI returns the URI form of the path, including its key.
func (p Path) URI() string {
	uri := url.URL{Scheme: p.key.Scheme}
	if p.absolute {
		uri.Path = p.String()
	} else {
		escaped := make([]string, len(p.segments))
		for i, segment := range p.segments {
			escaped[i] = url.PathEscape(segment)
		}
		uri.Opaque = strings.Join(escaped, Separator)
	}
	if p.key.Archive != "" {
		uri.RawQuery = url.Values{archiveQueryParameter: {p.key.Archive}}.Encode()
	}
	return uri.String()
}

// ParseURI inverts URI.
func ParseURI(raw string) (Path, error) {
	uri, err := url.Parse(raw)
	if err != nil {
		return Path{}, fmt.Errorf("parsing path URI %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		return Path{}, fmt.Errorf("path URI %q has no scheme", raw)
	}
	if uri.Host != "" {
		return Path{}, fmt.Errorf("path URI %q has an authority; only local paths are addressable", raw)
	}
	key := Key{Scheme: uri.Scheme}
	if uri.RawQuery != "" {
		query, err := url.ParseQuery(uri.RawQuery)
		if err != nil {
			return Path{}, fmt.Errorf("parsing query of path URI %q: %w", raw, err)
		}
		key.Archive = query.Get(archiveQueryParameter)
	}
	if uri.Opaque != "" {
		var segments []string
		for _, escaped := range strings.Split(uri.Opaque, Separator) {
			if escaped == "" {
				continue
			}
			segment, err := url.PathUnescape(escaped)
			if err != nil {
				return Path{}, fmt.Errorf("unescaping segment %q of path URI %q: %w", escaped, raw, err)
			}
			segments = append(segments, segment)
		}
		return FromSegments(key, false, segments...)
	}
	if uri.Path == "" {
		return Path{key: key}, nil
	}
	return Parse(key, uri.Path), nil
}

// MarshalText encodes the path as its URI.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.URI()), nil
}

// UnmarshalText decodes a path written by MarshalText.
func (p *Path) UnmarshalText(data []byte) error {
	parsed, err := ParseURI(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func clone(segments []string) []string {
	if len(segments) == 0 {
		return nil
	}
	copied := make([]string, len(segments))
	copy(copied, segments)
	return copied
}
