// Package config loads adapter settings from defaults, an optional YAML file,
// KSYSGUARDD_NVIDIA_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
	"github.com/eddielth/ksysguardd-nvidia/validator"
)

const (
	EnvPrefix = "KSYSGUARDD_NVIDIA"

	FlagConfig          = "config"
	FlagCommand         = "command"
	FlagRefreshInterval = "refresh-interval"
	FlagLogLevel        = "log-level"
)

// Config is the full adapter configuration.
type Config struct {
	Collector CollectorConfig `mapstructure:"collector"`
	Fields    []FieldConfig   `mapstructure:"fields"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Storage   StorageConfig   `mapstructure:"storage"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

// CollectorConfig controls how telemetry is gathered.
type CollectorConfig struct {
	Command         string        `mapstructure:"command"`
	Args            []string      `mapstructure:"args"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// FieldConfig adds a field or overrides a built-in one. A field with a
// script defining generate() is derived; one defining transform() is queried
// from the telemetry tool and post-processed.
type FieldConfig struct {
	ID         string  `mapstructure:"id"`
	Type       string  `mapstructure:"type"`
	Unit       string  `mapstructure:"unit"`
	Max        float64 `mapstructure:"max"`
	MaxField   string  `mapstructure:"max_field"`
	ScriptPath string  `mapstructure:"script_path"`
	ScriptCode string  `mapstructure:"script_code"`
}

// LoggerConfig configures the logger package.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// StorageConfig configures the snapshot export sinks.
type StorageConfig struct {
	File     FileStorageConfig     `mapstructure:"file"`
	Database DatabaseStorageConfig `mapstructure:"database"`
}

// FileStorageConfig configures JSON file export.
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseStorageConfig configures SQL export.
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// MQTTConfig configures snapshot publishing.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
	Retained bool   `mapstructure:"retained"`
}

// ConfigChangeCallback is invoked with the reloaded configuration.
type ConfigChangeCallback func(cfg *Config) error

// NewFlagSet defines the command line flags understood by LoadConfig.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP(FlagConfig, "c", "", "path to a YAML configuration file")
	fs.String(FlagCommand, "nvidia-smi", "telemetry command to run")
	fs.Duration(FlagRefreshInterval, 2*time.Second, "minimum time between telemetry collections")
	fs.String(FlagLogLevel, "info", "log level (debug, info, warn, error)")
	return fs
}

// LoadConfig reads the configuration. path may be empty, in which case only
// defaults, environment and flags apply. flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v, err := newViper(path, flags)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// WatchConfig reloads the file at path whenever it is written and passes the
// result to callback. Bursts of writes are debounced.
func WatchConfig(path string, flags *pflag.FlagSet, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	v, err := newViper(absPath, flags)
	if err != nil {
		return err
	}

	var lastChangeTime time.Time
	debounceInterval := 2 * time.Second

	v.OnConfigChange(func(e fsnotify.Event) {
		// editors that save by rename produce Create instead of Write
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			return
		}
		lastChangeTime = now

		logger.Info("configuration file changed: %s", e.Name)

		cfg, err := decode(v)
		if err != nil {
			logger.Error("failed to reload configuration: %v", err)
			return
		}
		if err := callback(cfg); err != nil {
			logger.Error("failed to apply configuration: %v", err)
			return
		}
		logger.Info("configuration reloaded")
	})
	v.WatchConfig()
	return nil
}

func newViper(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{
			"collector.command":          FlagCommand,
			"collector.refresh_interval": FlagRefreshInterval,
			"logger.level":               FlagLogLevel,
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("collector.command", "nvidia-smi")
	v.SetDefault("collector.args", []string{})
	v.SetDefault("collector.refresh_interval", 2*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)

	v.SetDefault("storage.file.enabled", false)
	v.SetDefault("storage.file.path", "./snapshots")
	v.SetDefault("storage.database.enabled", false)
	v.SetDefault("storage.database.type", "postgresql")
	v.SetDefault("storage.database.dsn", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "ksysguardd/gpu")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", false)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	checks := []validator.Validator{
		&validator.RangeValidator{Field: "Collector.RefreshInterval", Min: 0.1, Max: 86400},
		&validator.OneOfValidator{Field: "Logger.Level", Values: []string{"debug", "info", "warn", "warning", "error"}},
		&validator.RangeValidator{Field: "Logger.MaxSize", Min: 1, Max: 10240},
		&validator.RangeValidator{Field: "Logger.MaxBackups", Min: 0, Max: 1000},
		&validator.RangeValidator{Field: "MQTT.QoS", Min: 0, Max: 2},
	}
	if c.Storage.Database.Enabled {
		checks = append(checks, &validator.OneOfValidator{Field: "Storage.Database.Type", Values: []string{"mysql", "postgresql", "postgres"}})
	}

	errs := []error{validator.ValidateAll(c, checks...)}
	if strings.TrimSpace(c.Collector.Command) == "" {
		errs = append(errs, errors.New("collector command must not be empty"))
	}
	if c.Storage.File.Enabled && c.Storage.File.Path == "" {
		errs = append(errs, errors.New("file storage requires a path"))
	}
	if c.Storage.Database.Enabled && c.Storage.Database.DSN == "" {
		errs = append(errs, errors.New("database storage requires a dsn"))
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		errs = append(errs, errors.New("mqtt requires a broker and a topic"))
	}

	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		if err := f.validate(); err != nil {
			errs = append(errs, fmt.Errorf("fields[%d]: %w", i, err))
			continue
		}
		// "a.b" and "a/b" name the same request path
		key := strings.ReplaceAll(f.ID, "/", ".")
		if seen[key] {
			errs = append(errs, fmt.Errorf("fields[%d]: duplicate id %s", i, f.ID))
		}
		seen[key] = true
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (f FieldConfig) validate() error {
	if _, err := fields.ParseIdentifier(f.ID); err != nil {
		return err
	}
	if _, err := fields.ParseType(f.Type); err != nil {
		return err
	}
	if f.MaxField != "" {
		if _, err := fields.ParseIdentifier(f.MaxField); err != nil {
			return fmt.Errorf("max_field: %w", err)
		}
		if f.Max != 0 {
			return errors.New("max and max_field are mutually exclusive")
		}
	}
	if f.ScriptPath != "" && f.ScriptCode != "" {
		return errors.New("script_path and script_code are mutually exclusive")
	}
	return nil
}
