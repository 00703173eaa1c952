package styles

import (
	"slices"

	"github.com/charmbracelet/lipgloss"
)

// ThemeName represents a named color theme.
type ThemeName string

// Available theme names.
const (
	ThemeDefault ThemeName = "default" // Purple/green dark theme
	ThemeNord    ThemeName = "nord"    // Nord theme - cool blue-gray
	ThemeDracula ThemeName = "dracula" // Dracula theme colors
	ThemeMonokai ThemeName = "monokai" // Classic Monokai editor colors
)

// BuiltinThemes returns all built-in theme names.
func BuiltinThemes() []string {
	return []string{
		string(ThemeDefault),
		string(ThemeNord),
		string(ThemeDracula),
		string(ThemeMonokai),
	}
}

// IsBuiltinTheme reports whether name is a built-in theme.
func IsBuiltinTheme(name string) bool {
	return slices.Contains(BuiltinThemes(), name)
}

// ColorPalette defines the color scheme for a theme.
type ColorPalette struct {
	// Primary accent color (titles, the countdown)
	Primary lipgloss.Color
	// Secondary accent color (ready state, key hints)
	Secondary lipgloss.Color
	// Warning color (busy states, a countdown about to expire)
	Warning lipgloss.Color
	// Error color (failures, capacity rejections)
	Error lipgloss.Color
	// Muted color (labels, idle state)
	Muted lipgloss.Color
	// Text color (primary text)
	Text lipgloss.Color
	// Border color (panel borders)
	Border lipgloss.Color
}

// DefaultPalette returns the default purple/green dark theme palette.
func DefaultPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#A78BFA"), // Purple (violet-400)
		Secondary: lipgloss.Color("#10B981"), // Green
		Warning:   lipgloss.Color("#F59E0B"), // Amber
		Error:     lipgloss.Color("#F87171"), // Red (red-400)
		Muted:     lipgloss.Color("#9CA3AF"), // Gray
		Text:      lipgloss.Color("#F9FAFB"), // Light text
		Border:    lipgloss.Color("#6B7280"), // Gray-500
	}
}

// NordPalette returns the Nord palette.
func NordPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#88C0D0"), // Frost
		Secondary: lipgloss.Color("#A3BE8C"), // Aurora green
		Warning:   lipgloss.Color("#EBCB8B"), // Aurora yellow
		Error:     lipgloss.Color("#BF616A"), // Aurora red
		Muted:     lipgloss.Color("#81A1C1"),
		Text:      lipgloss.Color("#ECEFF4"), // Snow storm
		Border:    lipgloss.Color("#4C566A"), // Polar night
	}
}

// DraculaPalette returns the Dracula palette.
func DraculaPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#BD93F9"),
		Secondary: lipgloss.Color("#50FA7B"),
		Warning:   lipgloss.Color("#F1FA8C"),
		Error:     lipgloss.Color("#FF5555"),
		Muted:     lipgloss.Color("#6272A4"),
		Text:      lipgloss.Color("#F8F8F2"),
		Border:    lipgloss.Color("#44475A"),
	}
}

// MonokaiPalette returns the Monokai palette.
func MonokaiPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#66D9EF"),
		Secondary: lipgloss.Color("#A6E22E"),
		Warning:   lipgloss.Color("#E6DB74"),
		Error:     lipgloss.Color("#F92672"),
		Muted:     lipgloss.Color("#75715E"),
		Text:      lipgloss.Color("#F8F8F2"),
		Border:    lipgloss.Color("#49483E"),
	}
}

// PaletteFor returns the palette of a built-in theme.
func PaletteFor(name ThemeName) (*ColorPalette, bool) {
	switch name {
	case ThemeDefault, "":
		return DefaultPalette(), true
	case ThemeNord:
		return NordPalette(), true
	case ThemeDracula:
		return DraculaPalette(), true
	case ThemeMonokai:
		return MonokaiPalette(), true
	default:
		return nil, false
	}
}
