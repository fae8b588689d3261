// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the filesystem-provider contract that every
// Strata backend implements identically: the local filesystem
// (lib/localfs), archive contents (lib/archive), and filesystems
// forwarded through a helper process (lib/remote).
//
// A [Provider] serves exactly one scheme. Paths carry their scheme in
// their [fspath.Key], so callers route a path to its provider through a
// [Router], an explicit object owned by the composition root.
//
// # Errors
//
// Every provider reports failures in one taxonomy. The sentinels alias
// the io/fs and errors package sentinels where one exists
// (ErrNotFound is fs.ErrNotExist, ErrUnsupported is
// errors.ErrUnsupported), so both
//
//	errors.Is(err, provider.ErrNotFound)
//	errors.Is(err, fs.ErrNotExist)
//
// hold for the same error. [KindOf] classifies any error, including raw
// syscall.Errno values from the local filesystem, into a [Kind]. The
// kind is what crosses the process boundary: lib/parcel rebuilds an
// [*Error] on the caller side whose errors.Is behavior matches the
// original.
//
// # Search
//
// Search is incremental: results are handed to a [SearchFunc] in
// batches, at most one batch per poll interval, through a
// [SearchBatcher]. Queries containing glob metacharacters are matched
// with doublestar; plain queries are case-insensitive substring
// matches on the entry name.
package provider
