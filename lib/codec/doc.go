// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Strata's standard CBOR encoding configuration.
//
// Every message that crosses the boundary between a caller and a helper
// process (provider requests, value and failure envelopes, stream
// chunks, task status) is CBOR. Configuration files stay YAML; CLI
// output stays text. This package holds the one shared encoder and
// decoder mode so that the caller and the helper always agree on the
// wire form without duplicating configuration.
//
// For buffer-oriented operations (envelope payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (helper sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Encoding rules
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). Types
// implementing encoding.TextMarshaler serialize as CBOR text strings;
// fspath.Path relies on this to cross the boundary as its URI rather
// than as a reflected struct. Timestamps are RFC 3339 strings with
// nanoseconds so attribute round trips are exact.
//
// Wire types carry `cbor` struct tags only.
package codec
