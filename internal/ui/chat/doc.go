// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// The Model renders two screens: the conversation list and the active
// conversation. All domain state lives in the store and session packages;
// this package only reads snapshots and translates key presses into
// session operations. Realtime updates reach the Model as typed Bubble
// Tea messages delivered through the program's Send bridge.
package chat
