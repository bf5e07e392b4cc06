// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string helpers shared across the peerchat
// TUI. All functions are rune-aware: message bodies and peer names are
// user-generated UTF-8 and must never be cut mid-character.
package util
