package styles

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// ThemeFile represents a custom theme definition loaded from YAML.
type ThemeFile struct {
	// Name is the theme's display name (e.g., "Solarized Dark")
	Name string `yaml:"name"`
	// Version is the theme file format version (currently "1")
	Version string `yaml:"version"`
	// Colors defines the color palette
	Colors ThemeColors `yaml:"colors"`
}

// ThemeColors contains all color definitions for a theme.
// All colors should be hex format (#RRGGBB or #RGB).
type ThemeColors struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Warning   string `yaml:"warning"`
	Error     string `yaml:"error"`
	Muted     string `yaml:"muted"`
	Text      string `yaml:"text"`
	Border    string `yaml:"border"`
}

// hexColorRegex validates hex color format.
var hexColorRegex = regexp.MustCompile(`^#([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// LoadThemeFile loads a theme from a YAML file.
func LoadThemeFile(path string) (*ThemeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme file: %w", err)
	}

	var theme ThemeFile
	if err := yaml.Unmarshal(data, &theme); err != nil {
		return nil, fmt.Errorf("parsing theme file: %w", err)
	}

	if err := theme.Validate(); err != nil {
		return nil, fmt.Errorf("invalid theme: %w", err)
	}

	return &theme, nil
}

// Validate checks that the theme file is well-formed.
func (t *ThemeFile) Validate() error {
	if t.Name == "" {
		return errors.New("theme name is required")
	}

	if t.Version != "1" {
		return fmt.Errorf("unsupported theme version: %q (supported: 1)", t.Version)
	}

	colors := []struct {
		name  string
		value string
	}{
		{"primary", t.Colors.Primary},
		{"secondary", t.Colors.Secondary},
		{"warning", t.Colors.Warning},
		{"error", t.Colors.Error},
		{"muted", t.Colors.Muted},
		{"text", t.Colors.Text},
		{"border", t.Colors.Border},
	}
	for _, c := range colors {
		if c.value == "" {
			return fmt.Errorf("color '%s' is required", c.name)
		}
		if !hexColorRegex.MatchString(c.value) {
			return fmt.Errorf("color '%s' has invalid format: %s (expected #RGB or #RRGGBB)", c.name, c.value)
		}
	}

	return nil
}

// ToPalette converts the theme file to a ColorPalette.
func (t *ThemeFile) ToPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color(t.Colors.Primary),
		Secondary: lipgloss.Color(t.Colors.Secondary),
		Warning:   lipgloss.Color(t.Colors.Warning),
		Error:     lipgloss.Color(t.Colors.Error),
		Muted:     lipgloss.Color(t.Colors.Muted),
		Text:      lipgloss.Color(t.Colors.Text),
		Border:    lipgloss.Color(t.Colors.Border),
	}
}

// ResolvePalette returns the palette for a built-in theme name or for a
// path to a YAML theme file.
func ResolvePalette(theme string) (*ColorPalette, error) {
	if p, ok := PaletteFor(ThemeName(theme)); ok {
		return p, nil
	}
	if strings.HasSuffix(theme, ".yaml") || strings.HasSuffix(theme, ".yml") {
		f, err := LoadThemeFile(theme)
		if err != nil {
			return nil, err
		}
		return f.ToPalette(), nil
	}
	return nil, fmt.Errorf("unknown theme %q (built-in: %s)", theme, strings.Join(BuiltinThemes(), ", "))
}

// ExportTheme renders a built-in theme as a YAML theme file, as a starting
// point for a custom theme.
func ExportTheme(name ThemeName) ([]byte, error) {
	p, ok := PaletteFor(name)
	if !ok {
		return nil, fmt.Errorf("unknown theme %q", name)
	}
	theme := ThemeFile{
		Name:    string(name),
		Version: "1",
		Colors: ThemeColors{
			Primary:   string(p.Primary),
			Secondary: string(p.Secondary),
			Warning:   string(p.Warning),
			Error:     string(p.Error),
			Muted:     string(p.Muted),
			Text:      string(p.Text),
			Border:    string(p.Border),
		},
	}
	return yaml.Marshal(&theme)
}
