// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the peerchat TUI.
//
// A Theme bundles every lipgloss style the chat interface renders with,
// adapted to the terminal's detected color capability. Styles are built
// once at startup and resized on window changes.
package styles
