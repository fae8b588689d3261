// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive exposes the contents of archive files as read-only
// filesystems.
//
// A [FileSystem] views one archive, identified by an archive
// [fspath.Key] carrying the URI of the backing file. Its [Index] (the
// entry table plus the parent-to-children tree) is built on first
// access from the archive's flat member list: names are normalized,
// directories the archive only implies are synthesized, and the root
// always exists. Decoding is all or nothing; an archive that fails to
// decode yields a MalformedArchive error and no index.
//
// Each FileSystem carries a [Freshness] state (Stale, Rebuilding,
// Fresh). MarkStale is a lock-free store; the next read rebuilds.
//
// A [Registry] shares one FileSystem per archive among all callers and
// counts references for callers that hold a filesystem open. The
// [Provider] serves the "archive" scheme on top of a registry.
//
// Supported formats are zip (deflate, store, zstd methods) and tar,
// plain or compressed with gzip, zstd, lz4, or bzip2. Formats are
// identified by content, falling back to the file extension. Backing
// files are read through a [Source], normally the provider router, so
// an archive can itself live inside another archive.
package archive
