// Package config holds the batchgate configuration and loads it from a
// YAML file, BATCHGATE_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/me/batchgate/internal/scheduler"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "BATCHGATE"

// Config is the complete batchgate configuration.
type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Archive   ArchiveConfig
	Scheduler scheduler.Config
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr    string        // Listen address (default ":8080")
	MaxWait time.Duration // Upper bound on ?timeout= for wait requests
}

// ArchiveConfig configures the finished-job archive.
type ArchiveConfig struct {
	DBPath string // SQLite database path, "" disables the archive
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:    ":8080",
		MaxWait: 5 * time.Minute,
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Server:    DefaultServerConfig(),
		Archive:   ArchiveConfig{DBPath: DefaultDBPath()},
		Scheduler: scheduler.DefaultConfig(),
	}
}

// DefaultDBPath returns ~/.batchgate/archive.db, or "" if there is no
// home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".batchgate", "archive.db")
}

// SetDefaults registers the defaults of every key with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_wait", d.Server.MaxWait.String())

	v.SetDefault("archive.db_path", d.Archive.DBPath)
	v.SetDefault("archive.interval", d.Scheduler.ArchiveInterval.String())

	v.SetDefault("scheduler.flavor", d.Scheduler.Flavor)
	v.SetDefault("scheduler.location", d.Scheduler.Location)

	v.SetDefault("local.name", d.Scheduler.Local.Name)
	v.SetDefault("local.multi_queue_limit", d.Scheduler.Local.MultiQueueLimit)
	v.SetDefault("local.polling_delay", d.Scheduler.Local.PollingDelay.String())
	v.SetDefault("local.history_size", d.Scheduler.Local.HistorySize)

	v.SetDefault("remote.polling_delay", d.Scheduler.Remote.PollingDelay.String())
	v.SetDefault("remote.ignore_version", d.Scheduler.Remote.IgnoreVersion)
}

// New returns a viper instance with defaults and BATCHGATE_* environment
// binding. If file is not empty it is read as the configuration file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load builds a Config from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Archive.DBPath = v.GetString("archive.db_path")

	cfg.Scheduler.Flavor = v.GetString("scheduler.flavor")
	cfg.Scheduler.Location = v.GetString("scheduler.location")

	cfg.Scheduler.Local.Name = v.GetString("local.name")
	cfg.Scheduler.Local.MultiQueueLimit = v.GetInt("local.multi_queue_limit")
	cfg.Scheduler.Local.HistorySize = v.GetInt("local.history_size")
	cfg.Scheduler.Remote.IgnoreVersion = v.GetBool("remote.ignore_version")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"server.max_wait", &cfg.Server.MaxWait},
		{"archive.interval", &cfg.Scheduler.ArchiveInterval},
		{"local.polling_delay", &cfg.Scheduler.Local.PollingDelay},
		{"remote.polling_delay", &cfg.Scheduler.Remote.PollingDelay},
	}
	for _, d := range durations {
		val, err := duration(v, d.key)
		if err != nil {
			return Config{}, err
		}
		*d.dst = val
	}
	return cfg, nil
}

// duration accepts "1s" style strings as well as plain numbers of seconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs float64
	if _, err := fmt.Sscanf(s, "%g", &secs); err != nil {
		return 0, fmt.Errorf("config %s: invalid duration %q", key, s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
