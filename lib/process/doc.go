// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the Strata binaries:
// reporting a fatal error before the structured logger exists, and
// mapping a run() error onto a process exit status.
package process
