package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Accent color for the sightline banner.
const accentBlue = "#3B82F6"

// SIGHTLINE banner (filled block style).
var bannerArt = []string{
	"  ███████╗██╗ ██████╗ ██╗  ██╗████████╗██╗     ██╗███╗   ██╗███████╗",
	"  ██╔════╝██║██╔════╝ ██║  ██║╚══██╔══╝██║     ██║████╗  ██║██╔════╝",
	"  ███████╗██║██║  ███╗███████║   ██║   ██║     ██║██╔██╗ ██║█████╗  ",
	"  ╚════██║██║██║   ██║██╔══██║   ██║   ██║     ██║██║╚██╗██║██╔══╝  ",
	"  ███████║██║╚██████╔╝██║  ██║   ██║   ███████╗██║██║ ╚████║███████╗",
	"  ╚══════╝╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Notice    lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style // Horizontal line separator
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentBlue)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Warning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray separator line
	}
}

// RenderBanner returns the SIGHTLINE banner as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for _, line := range bannerArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips contains getting started tips displayed under the banner.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Upload a screenshot with /upload <path>, then describe a task",
	"  • Use /help to see available commands",
	"  • Press Esc to stop the agent, Ctrl+D to exit",
	"  • Up/Down arrows navigate task history",
}

// RenderWelcomeTips returns styled welcome tips.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
