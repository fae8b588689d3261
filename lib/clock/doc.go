// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// search batcher, the helper bootstrap, and the stub's long-poll
// windows.
//
// Production code holds a Clock field set to Real(). Tests install
// Fake() and drive time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForSocket(c)
//	c.WaitForTimers(1) // the goroutine has registered its deadline
//	c.Advance(5 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// deadline and the test advancing past it.
package clock
