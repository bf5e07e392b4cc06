// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives the per-conversation message state machine.
//
// The Manager owns the message list for the active conversation and every
// transition a message goes through: optimistic append in "sending",
// reconciliation against the server echo, delivery and read receipts,
// retry after failure, and tombstoned deletes that restore themselves when
// the server rejects them. Outbound sends are serialized by a single-slot
// in-flight guard that is released on every outcome, including ack
// timeouts.
//
// # Key Types
//
//   - Manager: mutex-guarded state machine for the active conversation
//   - Options: wiring for the emitter, uploader, and history fetcher
//
// The Manager implements socket.Handler, so it is wired directly as the
// realtime connection's event sink. Callbacks (OnChange, OnNotice) are
// always invoked outside the Manager's lock.
package session
