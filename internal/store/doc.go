// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store maintains the in-memory conversation list.
//
// The store is the single owner of the conversation slice: it loads the
// list from the REST backend, derives last-message previews from history,
// patches previews as realtime messages arrive, and keeps the list sorted
// by most recent activity. A small sqlite cache persists previews so the
// list renders instantly on the next startup while the network load runs.
//
// All reads go through Snapshot, which returns deep copies; callers never
// observe the store's internal slice. Update notifications are delivered
// through a callback invoked outside the store's lock.
package store
