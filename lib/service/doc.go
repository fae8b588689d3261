// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the Unix socket transport between Strata
// clients and helper processes.
//
// The protocol is CBOR request-response with one request per
// connection. The client writes a CBOR map carrying an "action" field
// (and, when the server requires one, a "token" field). The server
// dispatches to the handler registered for the action and writes a
// [Response] envelope: {ok, error, data}. CBOR is self-delimiting, so
// no framing is needed.
//
// A stream action keeps the connection after the response: the server
// writes {ok: true} and hands the connection to a [StreamFunc] for as
// long as it needs it. Strata uses this for the session link, whose
// only purpose is to tell each side when the other goes away.
//
// [MetricsServer] exposes a Prometheus registry over HTTP with the
// same Serve(ctx) lifecycle as [SocketServer].
package service
