// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch reports changes to the entries of a local directory
// using Linux inotify.
//
// A [Watcher] watches one directory, not its subtree. Events are
// delivered in batches: each call to [Watcher.Next] returns everything
// the kernel reported since the previous call. When the kernel queue
// overflows, the batch carries an [Overflow] event and callers must
// rescan the directory.
//
// [WaitForFile] blocks until a path exists. It installs the watch
// before checking for the file, so a file created between the check and
// the watch is never missed. The helper bootstrap uses it to wait for a
// freshly spawned helper's socket.
package watch
