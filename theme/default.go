package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the application
type Theme struct {
	// Log level colours
	Info  *pterm.Style
	Muted *pterm.Style

	// Component colours
	Endpoint pterm.Color
	Model    pterm.Color
	Counts   pterm.Color
	Numbers  pterm.Color

	// Readiness colours
	StateReady        pterm.Color
	StateDegraded     pterm.Color
	StateInitializing pterm.Color
	StateFailed       pterm.Color
	StateUnknown      pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Info:  pterm.NewStyle(pterm.FgGreen),
		Muted: pterm.NewStyle(pterm.FgGray),

		Endpoint: pterm.FgCyan,
		Model:    pterm.FgMagenta,
		Counts:   pterm.FgGray,
		Numbers:  pterm.FgYellow,

		StateReady:        pterm.FgGreen,
		StateDegraded:     pterm.FgYellow,
		StateInitializing: pterm.FgBlue,
		StateFailed:       pterm.FgRed,
		StateUnknown:      pterm.FgGray,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	return &Theme{
		Info:  pterm.NewStyle(pterm.FgLightGreen),
		Muted: pterm.NewStyle(pterm.FgGray),

		Endpoint: pterm.FgLightCyan,
		Model:    pterm.FgLightMagenta,
		Counts:   pterm.FgGray,
		Numbers:  pterm.FgLightYellow,

		StateReady:        pterm.FgLightGreen,
		StateDegraded:     pterm.FgLightYellow,
		StateInitializing: pterm.FgLightBlue,
		StateFailed:       pterm.FgLightRed,
		StateUnknown:      pterm.FgGray,
	}
}

// Light returns a light theme variant
func Light() *Theme {
	return &Theme{
		Info:  pterm.NewStyle(pterm.FgBlack),
		Muted: pterm.NewStyle(pterm.FgGray),

		Endpoint: pterm.FgBlue,
		Model:    pterm.FgMagenta,
		Counts:   pterm.FgGray,
		Numbers:  pterm.FgRed,

		StateReady:        pterm.FgGreen,
		StateDegraded:     pterm.FgRed,
		StateInitializing: pterm.FgBlue,
		StateFailed:       pterm.FgRed,
		StateUnknown:      pterm.FgGray,
	}
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}

// ColourSplash Colours for the splash screen
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion Colours Version numbers, used for the splash screen
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// Hyperlink creates a hyperlink in the terminal
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\u001b[0m"
}
