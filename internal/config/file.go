package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const fileHeader = "# flashdesk configuration\n# Values apply to the next launch; a running session keeps its settings.\n\n"

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := Marshal(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Watch reloads the configuration whenever the file backing v changes and
// passes the validated result, or the load error, to onChange. v must
// already have a config file.
func Watch(v *viper.Viper, onChange func(*Config, error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		handleChange(v, e, onChange)
	})
	v.WatchConfig()
}

func handleChange(v *viper.Viper, e fsnotify.Event, onChange func(*Config, error)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := LoadFrom(v)
	onChange(cfg, err)
}
