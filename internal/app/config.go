package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/spf13/viper"
)

// Config is the stackops configuration, loaded from stackops.yml with
// STACKOPS_* environment overrides.
type Config struct {
	TargetsDir string         `mapstructure:"targets_dir"`
	Backup     BackupConfig   `mapstructure:"backup"`
	Upstream   UpstreamConfig `mapstructure:"upstream"`
	Update     UpdateConfig   `mapstructure:"update"`
	Health     HealthConfig   `mapstructure:"health"`
	Logging    LoggingConfig  `mapstructure:"logging"`
}

// BackupConfig holds backup defaults.
type BackupConfig struct {
	// Destination is a local path or an s3://bucket[/prefix] URL.
	Destination string `mapstructure:"destination"`
	Keep        int    `mapstructure:"keep"`
}

// UpstreamConfig points at the reference compose descriptor that defines
// the latest published service versions.
type UpstreamConfig struct {
	ComposeURL     string `mapstructure:"compose_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// UpdateConfig holds update pipeline tuning.
type UpdateConfig struct {
	SettleSeconds int `mapstructure:"settle_seconds"`
	SnapshotKeep  int `mapstructure:"snapshot_keep"`
}

// HealthConfig tunes the post-update health evaluation.
type HealthConfig struct {
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
}

// LoggingConfig mirrors the zerowrap configuration surface.
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables file output alongside the console.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// LoadConfig reads stackops.yml. A missing config file is not an error;
// defaults and environment variables still apply.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("stackops")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/stackops")
		v.AddConfigPath("/etc/stackops")
	}

	v.SetEnvPrefix("STACKOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("targets_dir", "/opt/stacks")
	v.SetDefault("backup.destination", "/var/backups/stackops")
	v.SetDefault("backup.keep", 0)
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("update.settle_seconds", 30)
	v.SetDefault("update.snapshot_keep", 5)
	v.SetDefault("health.probe_timeout_seconds", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path == "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if path != "" {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the zerowrap logger.
func initLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		logPath := cfg.Logging.File.Path
		if logPath == "" {
			logPath = filepath.Join("/var/log", "stackops", "stackops.log")
		}

		log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
			Enabled:    true,
			Path:       logPath,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   true,
		})
		if err != nil {
			return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
		}
		return log, cleanup, nil
	}

	return zerowrap.New(logConfig), nil, nil
}
