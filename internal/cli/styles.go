// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for console output.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ragent/internal/budget"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

var (
	colorCyan      = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	colorPurple    = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	colorEmerald   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	colorAmber     = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	colorRose      = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	colorSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
	colorMuted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// TitleStyle is used for banners and section headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple)

	// HeaderStyle is used for summary headers.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Width(16)

	// ValueStyle is used for plain values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	PromptStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	CommandStyle = lipgloss.NewStyle().
			Foreground(colorEmerald)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(colorEmerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorRose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	// DimStyle is used for secondary information and hints.
	DimStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	InfoStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule. Default width is 60.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderLabel renders a fixed-width label.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// SeverityStyle picks the style for a budget band.
func SeverityStyle(s budget.Severity) lipgloss.Style {
	switch s {
	case budget.SeverityHardStop:
		return ErrorStyle
	case budget.SeverityWarning:
		return WarningStyle
	case budget.SeverityInfo:
		return InfoStyle
	default:
		return DimStyle
	}
}
