// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the helper session token in memory the garbage
// collector never sees.
//
// A [Buffer] is an anonymous mmap region, locked against swap and
// excluded from core dumps. Close zeroes and unmaps it. The caller that
// spawns a helper mints a token with [NewToken] and writes it to the
// helper's stdin; the helper reads it back with [ReadFromPath] ("-" for
// stdin) and hands Bytes to the socket server, which compares tokens in
// constant time.
package secret
