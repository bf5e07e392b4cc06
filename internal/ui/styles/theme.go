// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLOR PALETTE
// =============================================================================

// Palette holds the raw colors a theme is built from.
type Palette struct {
	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Text      lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor
	Surface   lipgloss.AdaptiveColor
	Success   lipgloss.AdaptiveColor
	Warning   lipgloss.AdaptiveColor
	Danger    lipgloss.AdaptiveColor
	Online    lipgloss.AdaptiveColor
}

// DefaultPalette returns the standard peerchat palette.
func DefaultPalette() Palette {
	return Palette{
		Primary:   lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"},
		Secondary: lipgloss.AdaptiveColor{Light: "#0CA678", Dark: "#2DD4A8"},
		Text:      lipgloss.AdaptiveColor{Light: "#1A1A2E", Dark: "#ECECF4"},
		Muted:     lipgloss.AdaptiveColor{Light: "#8E8EA0", Dark: "#6C6C80"},
		Surface:   lipgloss.AdaptiveColor{Light: "#F0F0F8", Dark: "#24243A"},
		Success:   lipgloss.AdaptiveColor{Light: "#0CA678", Dark: "#2DD4A8"},
		Warning:   lipgloss.AdaptiveColor{Light: "#E8A33D", Dark: "#FFC96B"},
		Danger:    lipgloss.AdaptiveColor{Light: "#D6455D", Dark: "#FF708D"},
		Online:    lipgloss.AdaptiveColor{Light: "#0CA678", Dark: "#3DDC97"},
	}
}

// =============================================================================
// THEME
// =============================================================================

// Theme holds all the styled components for the application.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// APPLICATION CONTAINER STYLES
	// ==========================================================================

	App    lipgloss.Style
	Header lipgloss.Style
	Title  lipgloss.Style

	// ==========================================================================
	// CONVERSATION LIST STYLES
	// ==========================================================================

	ListPane         lipgloss.Style
	ListItem         lipgloss.Style
	ListItemSelected lipgloss.Style
	ListPeerName     lipgloss.Style
	ListPreview      lipgloss.Style
	ListTimestamp    lipgloss.Style
	PresenceOnline   lipgloss.Style
	PresenceOffline  lipgloss.Style

	// ==========================================================================
	// MESSAGE PANE STYLES
	// ==========================================================================

	ChatPane      lipgloss.Style
	OwnMessage    lipgloss.Style
	PeerMessage   lipgloss.Style
	MessageMeta   lipgloss.Style
	StatusMarker  lipgloss.Style
	StatusError   lipgloss.Style
	ImageTag      lipgloss.Style
	TypingLine    lipgloss.Style
	DeletedNotice lipgloss.Style

	// ==========================================================================
	// INPUT AND CHROME STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	HelpBar        lipgloss.Style
	HelpKey        lipgloss.Style
	ErrorBanner    lipgloss.Style
	NoticeBanner   lipgloss.Style
}

// NewTheme builds a theme for the current terminal.
func NewTheme() *Theme {
	return NewThemeWithPalette(DefaultPalette())
}

// NewThemeFor builds a theme for the named color scheme ("dark" or
// "light"), overriding the terminal's background detection so the
// adaptive palette resolves to the configured variant. Unknown names get
// the dark scheme.
func NewThemeFor(name string) *Theme {
	lipgloss.SetHasDarkBackground(name != "light")
	return NewThemeWithPalette(DefaultPalette())
}

// NewThemeWithPalette builds a theme from an explicit palette.
func NewThemeWithPalette(p Palette) *Theme {
	t := &Theme{
		ColorProfile: termenv.ColorProfile(),
	}

	t.App = lipgloss.NewStyle()
	t.Header = lipgloss.NewStyle().
		Foreground(p.Text).
		Padding(0, 1).
		Bold(true)
	t.Title = lipgloss.NewStyle().
		Foreground(p.Primary).
		Bold(true)

	t.ListPane = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Muted).
		Padding(0, 1)
	t.ListItem = lipgloss.NewStyle().
		Foreground(p.Text).
		Padding(0, 1)
	t.ListItemSelected = lipgloss.NewStyle().
		Foreground(p.Primary).
		Background(p.Surface).
		Padding(0, 1).
		Bold(true)
	t.ListPeerName = lipgloss.NewStyle().
		Foreground(p.Text).
		Bold(true)
	t.ListPreview = lipgloss.NewStyle().
		Foreground(p.Muted)
	t.ListTimestamp = lipgloss.NewStyle().
		Foreground(p.Muted).
		Faint(true)
	t.PresenceOnline = lipgloss.NewStyle().
		Foreground(p.Online)
	t.PresenceOffline = lipgloss.NewStyle().
		Foreground(p.Muted)

	t.ChatPane = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Muted).
		Padding(0, 1)
	t.OwnMessage = lipgloss.NewStyle().
		Foreground(p.Secondary)
	t.PeerMessage = lipgloss.NewStyle().
		Foreground(p.Text)
	t.MessageMeta = lipgloss.NewStyle().
		Foreground(p.Muted).
		Faint(true)
	t.StatusMarker = lipgloss.NewStyle().
		Foreground(p.Muted)
	t.StatusError = lipgloss.NewStyle().
		Foreground(p.Danger).
		Bold(true)
	t.ImageTag = lipgloss.NewStyle().
		Foreground(p.Warning)
	t.TypingLine = lipgloss.NewStyle().
		Foreground(p.Muted).
		Italic(true)
	t.DeletedNotice = lipgloss.NewStyle().
		Foreground(p.Muted).
		Faint(true).
		Italic(true)

	t.InputContainer = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Primary).
		Padding(0, 1)
	t.HelpBar = lipgloss.NewStyle().
		Foreground(p.Muted)
	t.HelpKey = lipgloss.NewStyle().
		Foreground(p.Secondary).
		Bold(true)
	t.ErrorBanner = lipgloss.NewStyle().
		Foreground(p.Danger).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(p.Danger).
		Bold(true)
	t.NoticeBanner = lipgloss.NewStyle().
		Foreground(p.Warning)

	return t
}

// Resize records the current window dimensions on the theme.
func (t *Theme) Resize(width, height int) {
	t.Width = width
	t.Height = height
}
