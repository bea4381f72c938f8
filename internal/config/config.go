// Package config resolves runner configuration in layered precedence:
// command-line flags, then INDALEKO_* environment variables, then the YAML
// file at $INDALEKO_ROOT/config/indaleko.yaml, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvRoot overrides the data root directory.
const EnvRoot = "INDALEKO_ROOT"

// Config is the fully resolved runner configuration.
type Config struct {
	// Volumes to monitor, e.g. ["C:"] or ["/home/user"].
	Volumes []string `mapstructure:"volumes" yaml:"volumes"`
	// JournalBackend selects the reader: auto, usn, watch or replay:<path>.
	JournalBackend string `mapstructure:"journal-backend" yaml:"journal-backend"`
	// DB is the storage connection string: a sqlite path or server://...
	DB string `mapstructure:"db" yaml:"db"`

	IntervalSeconds int     `mapstructure:"interval" yaml:"interval"`
	DurationHours   float64 `mapstructure:"duration" yaml:"duration"`
	TTLDays         int     `mapstructure:"ttl-days" yaml:"ttl-days"`
	BatchSize       int     `mapstructure:"batch-size" yaml:"batch-size"`

	BackupToFiles bool `mapstructure:"backup-to-files" yaml:"backup-to-files"`
	MaxFileSizeMB int  `mapstructure:"max-file-size-mb" yaml:"max-file-size-mb"`

	UseStateFile          bool `mapstructure:"use-state-file" yaml:"use-state-file"`
	AutoReset             bool `mapstructure:"auto-reset" yaml:"auto-reset"`
	ErrorThreshold        int  `mapstructure:"error-threshold" yaml:"error-threshold"`
	EmptyResultsThreshold int  `mapstructure:"empty-results-threshold" yaml:"empty-results-threshold"`

	LogLevel  string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat string `mapstructure:"log-format" yaml:"log-format"`
}

// Root returns the data root directory: $INDALEKO_ROOT, else ~/.indaleko.
func Root() string {
	if root := os.Getenv(EnvRoot); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".indaleko"
	}
	return filepath.Join(home, ".indaleko")
}

// Derived paths under the root.
func (c *Config) DBPath() string {
	if c.DB != "" {
		return c.DB
	}
	return filepath.Join(Root(), "data", "activity.db")
}
func (c *Config) StateFile() string { return filepath.Join(Root(), "state", "cursors.json") }
func (c *Config) BackupDir() string { return filepath.Join(Root(), "backups") }
func (c *Config) RunDir() string    { return filepath.Join(Root(), "run") }

func (c *Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationHours * float64(time.Hour))
}
func (c *Config) HotTTL() time.Duration { return time.Duration(c.TTLDays) * 24 * time.Hour }

// New builds a viper instance wired to the YAML file and environment.
// Missing config file is not an error.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("indaleko")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(Root(), "config"))
	v.SetEnvPrefix("INDALEKO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("volumes", []string{})
	v.SetDefault("journal-backend", "auto")
	v.SetDefault("db", "")
	v.SetDefault("interval", 30)
	v.SetDefault("duration", 24.0)
	v.SetDefault("ttl-days", 4)
	v.SetDefault("batch-size", 1000)
	v.SetDefault("backup-to-files", true)
	v.SetDefault("max-file-size-mb", 100)
	v.SetDefault("use-state-file", false)
	v.SetDefault("auto-reset", true)
	v.SetDefault("error-threshold", 3)
	v.SetDefault("empty-results-threshold", 3)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}

// Load resolves the configuration, binding the given flag set (may be nil)
// above the environment and file layers.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := New()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run mode can make sense of.
func (c *Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("config: interval must be positive, got %d", c.IntervalSeconds)
	}
	if c.DurationHours < 0 {
		return fmt.Errorf("config: duration must be >= 0, got %g", c.DurationHours)
	}
	if c.TTLDays <= 0 {
		return fmt.Errorf("config: ttl-days must be positive, got %d", c.TTLDays)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("config: max-file-size-mb must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.ErrorThreshold <= 0 || c.EmptyResultsThreshold <= 0 {
		return fmt.Errorf("config: thresholds must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// EffectiveYAML renders the resolved configuration, for --show-config.
func (c *Config) EffectiveYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
