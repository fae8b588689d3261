// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package parcel carries provider results and failures across the
// helper socket.
//
// A forwarded call returns a [Reply]: a [Value] holding the CBOR
// payload of the result, and a [Failure] holding the error, if any.
// Both are one-shot. A Value can be taken once and a Failure can be
// set once, so a handler that accidentally answers twice, or a caller
// that decodes the same result twice, fails loudly instead of reading
// stale data.
//
// A Failure records the error's [provider.Kind], operation, and paths.
// [Failure.Err] rebuilds a [*provider.Error] from them, and that error
// matches the same sentinel under errors.Is as the error the helper
// saw:
//
//	_, err := forwarder.ListChildren(ctx, path)
//	errors.Is(err, provider.ErrNotFound) // true if the helper's was
//
// Open streams, channels, and watchers stay on the helper. The caller
// holds a proxy ([StreamProxy], [ChannelProxy], [WatcherProxy]) that
// names the helper-side handle and turns each method call into one
// round trip through an [Invoker].
package parcel
