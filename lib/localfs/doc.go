// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package localfs serves the "file" scheme from the host filesystem.
//
// Paths map one to one onto host paths: the absolute path /a/b names
// the host file /a/b. Relative paths resolve against the working
// directory of the process. Errors are *provider.Error values whose
// kind comes from the underlying errno, so a missing file satisfies
// errors.Is(err, provider.ErrNotFound) and a non-empty directory
// errors.Is(err, provider.ErrNotEmpty).
//
// Channels are backed by *os.File and implement io.ReaderAt, which the
// archive package uses to read ZIP central directories without
// seeking.
//
// Watch uses inotify through package watch and covers the entries of
// one directory. Search walks in parallel with fastwalk.
package localfs
