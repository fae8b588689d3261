// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package fspath defines the immutable path type shared by every
// Strata provider.
//
// A [Path] is an ordered sequence of segments, an absolute flag, and
// the [Key] of the filesystem that owns it. The key is what lets one
// path type serve the local filesystem, the inside of an archive, and
// a filesystem reached through a helper process: an archive path's key
// names the archive file it lives in, and a forwarded path's key
// carries a "remote-" scheme.
//
// Paths are values. Every constructor copies its input and every
// accessor returns copies, so a Path can be shared between goroutines
// and stored in maps keyed by [Path.String] or [Path.URI] without
// defensive copying. Two paths are equal when their keys, absolute
// flags, and segments are equal; [Path.Equal] implements that, since
// the segment slice makes Path itself non-comparable.
//
// The separator is always "/". Parse never fails: empty segments are
// dropped, "." and ".." are kept until [Path.Normalize] removes them.
//
// # URI form
//
// Absolute paths render as hierarchical URIs:
//
//	file:///home/user/a.zip
//	archive:///docs/readme.txt?archive=file%3A%2F%2F%2Fhome%2Fuser%2Fa.zip
//
// Relative paths render opaquely ("file:docs/readme.txt"). [ParseURI]
// inverts [Path.URI] exactly. Paths implement encoding.TextMarshaler
// with the URI, which is how they cross the helper process boundary.
package fspath
