// Package config loads the docmirror configuration file and environment
// overrides, and owns the process logger setup.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AdapterConfig selects and configures one adapter by registered type
// name. Settings are passed through to the adapter constructor untouched.
type AdapterConfig struct {
	Type     string            `mapstructure:"type"`
	Settings map[string]string `mapstructure:"settings"`
}

// Config is the full runtime configuration.
type Config struct {
	// StatePath is the SQLite state database file.
	StatePath string `mapstructure:"state_path"`

	// MediaDir is the content-addressed media cache directory.
	MediaDir string `mapstructure:"media_dir"`

	// AuditLog is the append-only JSONL audit trail file. Never rotated.
	AuditLog string `mapstructure:"audit_log"`

	// LogFile is the optional process log file. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// RootPath is the destination container path mirrored documents
	// live under.
	RootPath []string `mapstructure:"root_path"`

	// ItemDelay is the pause between applied documents.
	ItemDelay time.Duration `mapstructure:"item_delay"`

	// IncludeMedia resolves and lists referenced assets by default.
	IncludeMedia bool `mapstructure:"include_media"`

	Source AdapterConfig `mapstructure:"source"`
	Dest   AdapterConfig `mapstructure:"dest"`
}

// Default returns the configuration used when no file is present:
// everything lives under a .docmirror directory in the working tree.
func Default() Config {
	return Config{
		StatePath: ".docmirror/state.db",
		MediaDir:  ".docmirror/media",
		AuditLog:  ".docmirror/audit.jsonl",
		ItemDelay: 250 * time.Millisecond,
	}
}

// Load reads the configuration from the given file, or searches the
// working directory and ~/.config/docmirror for docmirror.yaml when path
// is empty. Environment variables prefixed DM_ override file values
// (DM_STATE_PATH, DM_SOURCE_TYPE, ...). A missing file is only an error
// when a path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docmirror")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/docmirror")
	}

	v.SetEnvPrefix("DM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone is not enough for Unmarshal: keys without a
	// default or file value never reach the decoded struct. Bind each
	// key explicitly so DM_SOURCE_TYPE and friends always apply.
	for _, key := range []string{
		"state_path", "media_dir", "audit_log", "log_file",
		"root_path", "item_delay", "include_media",
		"source.type", "dest.type",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("state_path", def.StatePath)
	v.SetDefault("media_dir", def.MediaDir)
	v.SetDefault("audit_log", def.AuditLog)
	v.SetDefault("item_delay", def.ItemDelay)
	v.SetDefault("include_media", def.IncludeMedia)
}

// Validate checks the loaded configuration for values the engine cannot
// work without. Adapter types may stay empty; store-only commands do not
// need them.
func (c *Config) Validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir must not be empty")
	}
	if c.AuditLog == "" {
		return fmt.Errorf("audit_log must not be empty")
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("item_delay must not be negative")
	}
	return nil
}

// NewLogger returns the process logger. With a log file configured the
// output goes through lumberjack rotation; otherwise it writes to
// stderr. The audit trail is separate and never rotates.
func (c *Config) NewLogger(prefix string) *log.Logger {
	if c.LogFile == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}, prefix, log.LstdFlags)
}
