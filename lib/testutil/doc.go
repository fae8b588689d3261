// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Strata packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes and so cannot live
// under a deeply nested t.TempDir().
//
// [WriteTree] materializes a small directory tree from a map of
// relative paths to contents, for tests that exercise the local
// provider and the helper process against real files.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests never hang on a broken channel. They are the
// only place in the test suite that uses real wall-clock timeouts.
//
// All helpers call t.Fatalf on failure.
package testutil
