// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote forwards provider operations to a helper process over
// a Unix socket.
//
// The helper side is a [Stub]: it serves a provider.Router over a
// service.SocketServer, one action per provider operation plus actions
// for the handles it keeps open (streams, watches, tasks, pinned
// archive filesystems). Every reply is a parcel.Reply, so failures keep
// their provider.Kind across the socket.
//
// The caller side is a [Connection] and one [Forwarder] per forwarded
// scheme. The Connection acquires the helper lazily through an
// [Acquirer] (dialing a running helper, or spawning one, possibly
// through a privilege command such as "sudo -n"), then opens a
// session.link stream. The link carries no data; its EOF is the death
// notice. When the helper dies the cached [Peer] is dropped and the
// next call acquires a new one. Calls already in flight fail with
// provider.ErrRemoteUnavailable; nothing is retried.
//
// The helper closes every handle of a session when that session's link
// drops, so a caller that dies without closing its streams does not
// leak them.
//
// Actions that can outlast the client's response timeout long-poll:
// watch.next and task.wait return an empty answer after a bounded wait
// and the caller asks again.
//
// [PrivilegedForwarder] adds the needs-refresh marker used for the root
// helper: archive changes the root helper cannot observe itself are
// reported by the caller, which asks the helper to rebuild the index
// before the next read.
package remote
