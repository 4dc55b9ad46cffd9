package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Colors is the palette used for CLI output.
type Colors struct {
	Green  lipgloss.TerminalColor
	Yellow lipgloss.TerminalColor
	Red    lipgloss.TerminalColor
	Orange lipgloss.TerminalColor
	Cyan   lipgloss.TerminalColor
	Blue   lipgloss.TerminalColor
	Violet lipgloss.TerminalColor
	Muted  lipgloss.TerminalColor
}

// Theme holds the styles shared by help, errors and status output.
type Theme struct {
	Colors Colors
	Muted  lipgloss.Style
	Italic lipgloss.Style
	Bold   lipgloss.Style
}

func adaptive(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// DefaultTheme uses the Kanagawa palette, adapting to the terminal background.
var DefaultTheme = newTheme(Colors{
	Green:  adaptive("#4E7C5A", "#98BB6C"),
	Yellow: adaptive("#A68A64", "#FF9E3B"),
	Red:    adaptive("#C34043", "#FF5D62"),
	Orange: adaptive("#CC6B4E", "#FFA066"),
	Cyan:   adaptive("#5B8BBE", "#7E9CD8"),
	Blue:   adaptive("#4F7CAC", "#7FB4CA"),
	Violet: adaptive("#674D7A", "#957FB8"),
	Muted:  adaptive("#6C7086", "#727169"),
})

func newTheme(c Colors) *Theme {
	return &Theme{
		Colors: c,
		Muted:  lipgloss.NewStyle().Foreground(c.Muted),
		Italic: lipgloss.NewStyle().Italic(true),
		Bold:   lipgloss.NewStyle().Bold(true),
	}
}

// InitColor picks the lipgloss color profile from the environment.
// NO_COLOR disables styling; CLICOLOR_FORCE or COLORTERM=truecolor force
// full color in non-interactive environments.
func InitColor() {
	switch {
	case os.Getenv("NO_COLOR") != "":
		lipgloss.SetColorProfile(termenv.Ascii)
	case os.Getenv("CLICOLOR_FORCE") == "1" || os.Getenv("COLORTERM") == "truecolor":
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}
