// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount exposes a subtree of any provider as a read-only FUSE
// filesystem.
//
// The mount root is a provider path: a local directory, the root of an
// archive, or a forwarded path served by a helper. Directories are
// listed through ListChildren, attributes come from ReadAttributes
// without following links, symbolic links are reported as links, and
// regular files are read through a Channel opened per file handle.
//
// Every mutating operation fails with EROFS, and the kernel mount is
// itself read-only. Provider errors become errno values by kind (see
// [Errno]), so a missing entry is ENOENT and a dead helper is
// ENOTCONN.
package mount
