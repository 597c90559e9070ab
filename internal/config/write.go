package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// WriteDefault writes the built-in defaults as a TOML file at path. It
// refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	v := viper.New()
	setDefaults(v, filepath.Dir(path))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(tomlValue(v.AllSettings())); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// tomlValue converts durations to their string form so they read back
// through viper as written.
func tomlValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = tomlValue(inner)
		}
		return out
	case time.Duration:
		return v.String()
	default:
		return v
	}
}
