// Package config loads gnsync settings.
//
// Sources, lowest precedence first: built-in defaults, the TOML config file,
// a .env file, GNSYNC_* environment variables (dots become underscores, so
// sync.interval is GNSYNC_SYNC_INTERVAL) and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GNSYNC"

const appDir = "gnsync"

type Config struct {
	DB           DBConfig           `mapstructure:"db" yaml:"db" json:"db"`
	Remote       RemoteConfig       `mapstructure:"remote" yaml:"remote" json:"remote"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync" json:"sync"`
	Reachability ReachabilityConfig `mapstructure:"reachability" yaml:"reachability" json:"reachability"`
	Events       EventsConfig       `mapstructure:"events" yaml:"events" json:"events"`
	Log          LogConfig          `mapstructure:"log" yaml:"log" json:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token" json:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

type SyncConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	BatchLimit int           `mapstructure:"batch_limit" yaml:"batch_limit" json:"batch_limit"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after" json:"stale_after"`
	Pull       bool          `mapstructure:"pull" yaml:"pull" json:"pull"`
}

type ReachabilityConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// EventsConfig configures the WebSocket event server. An empty Addr
// disables it.
type EventsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	JSON       bool   `mapstructure:"json" yaml:"json" json:"json"`
}

// Validate checks value ranges after all sources are merged.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DB, validation.By(func(any) error {
			return validation.ValidateStruct(&c.DB,
				validation.Field(&c.DB.Path, validation.Required))
		})),
		validation.Field(&c.Remote, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Remote,
				validation.Field(&c.Remote.Timeout, validation.Min(time.Duration(0))))
		})),
		validation.Field(&c.Sync, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Sync,
				validation.Field(&c.Sync.Interval, validation.Required, validation.Min(100*time.Millisecond)),
				validation.Field(&c.Sync.BatchLimit, validation.Required, validation.Min(1)),
				validation.Field(&c.Sync.StaleAfter, validation.Required, validation.Min(time.Second)))
		})),
		validation.Field(&c.Reachability, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Reachability,
				validation.Field(&c.Reachability.Interval, validation.Required, validation.Min(100*time.Millisecond)),
				validation.Field(&c.Reachability.Timeout, validation.Required))
		})),
		validation.Field(&c.Log, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Log,
				validation.Field(&c.Log.Level, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
				validation.Field(&c.Log.MaxSizeMB, validation.Min(0)),
				validation.Field(&c.Log.MaxBackups, validation.Min(0)))
		})),
	)
}

// Dir returns the per-user gnsync directory ($XDG_CONFIG_HOME/gnsync).
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("db.path", filepath.Join(dir, "gnsync.db"))
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.batch_limit", 20)
	v.SetDefault("sync.stale_after", 60*time.Second)
	v.SetDefault("sync.pull", true)
	v.SetDefault("reachability.interval", 5*time.Second)
	v.SetDefault("reachability.timeout", 2*time.Second)
	v.SetDefault("events.addr", "127.0.0.1:7788")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.json", false)
}

// Options selects the sources Load reads.
type Options struct {
	// File is an explicit config file; it must exist. Empty means the default
	// path, which may be absent.
	File string

	// EnvFile is a dotenv file; missing files are ignored. Empty means ".env".
	EnvFile string

	// Dir overrides the directory used for default paths.
	Dir string
}

// Loader holds the merged sources and can re-read them.
type Loader struct {
	v    *viper.Viper
	file string

	mu      sync.Mutex
	current *Config
}

// NewLoader reads every source. Call Config for the decoded result.
func NewLoader(opts Options) (*Loader, error) {
	dir := opts.Dir
	if dir == "" {
		d, err := Dir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, dir)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.File
	explicit := file != ""
	if !explicit {
		file = filepath.Join(dir, "config.toml")
	}
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		file = ""
	}

	l := &Loader{v: v, file: file}
	if _, err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load is NewLoader followed by Config.
func Load(opts Options) (*Config, error) {
	l, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	return l.Config(), nil
}

// BindFlags lets set flags override config keys. keys maps config key to
// flag name.
func (l *Loader) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q for config key %s", name, key)
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	_, err := l.reload()
	return err
}

// File returns the config file in use, or "" when none was found.
func (l *Loader) File() string {
	return l.file
}

// Config returns the latest successfully decoded configuration.
func (l *Loader) Config() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg := *l.current
	return &cfg
}

func (l *Loader) reload() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l.mu.Lock()
	l.current = &cfg
	l.mu.Unlock()
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and calls onChange with
// the new configuration. Invalid edits are reported to onError and the
// previous configuration stays current. Watch is a no-op without a file.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.file == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.reload()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}
