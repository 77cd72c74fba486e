// Package config loads mediacache CLI settings from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
// MEDIACACHE_CACHE_DIR sets cache-dir, and so on.
const EnvPrefix = "mediacache"

// Setting keys. Each is also the name of the matching flag.
const (
	KeyConfig      = "config"
	KeyCacheDir    = "cache-dir"
	KeyTimeout     = "timeout"
	KeyWorkers     = "workers"
	KeyQueueSize   = "queue-size"
	KeyFallbackExt = "fallback-ext"
	KeyUserAgent   = "user-agent"
	KeyLogLevel    = "log-level"
	KeyLogFormat   = "log-format"
	KeyMetricsAddr = "metrics-addr"
)

// Config holds the resolved CLI settings.
type Config struct {
	// CacheDir is the cache root; files live in CacheDir/media-cache.
	// Empty selects the user cache directory.
	CacheDir    string
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	FallbackExt string
	UserAgent   string
	LogLevel    string
	LogFormat   string
	// MetricsAddr enables a Prometheus endpoint when set.
	MetricsAddr string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Timeout:   60 * time.Second,
		Workers:   4,
		QueueSize: 256,
		UserAgent: "mediacache/1",
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// RegisterFlags adds the setting flags to fs with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyConfig, "", "config file (default $HOME/.config/mediacache/mediacache.yaml)")
	fs.String(KeyCacheDir, d.CacheDir, "cache root directory (default user cache dir)")
	fs.Duration(KeyTimeout, d.Timeout, "per-download timeout")
	fs.Int(KeyWorkers, d.Workers, "concurrent warm downloads")
	fs.Int(KeyQueueSize, d.QueueSize, "pending warm downloads before new ones are dropped")
	fs.String(KeyFallbackExt, d.FallbackExt, "extension used when the URI has no media extension")
	fs.String(KeyUserAgent, d.UserAgent, "User-Agent header for downloads")
	fs.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	fs.String(KeyLogFormat, d.LogFormat, "log format (text, json)")
	fs.String(KeyMetricsAddr, d.MetricsAddr, "serve Prometheus metrics on this address")
}

// Load resolves settings in precedence order: flags explicitly set on fs,
// MEDIACACHE_* environment variables, the config file, then defaults.
// A missing default config file is not an error; a missing file named by
// --config is.
func Load(v *viper.Viper, fs *pflag.FlagSet) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	d := Default()
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyQueueSize, d.QueueSize)
	v.SetDefault(KeyUserAgent, d.UserAgent)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("mediacache")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/mediacache")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		CacheDir:    v.GetString(KeyCacheDir),
		Timeout:     v.GetDuration(KeyTimeout),
		Workers:     v.GetInt(KeyWorkers),
		QueueSize:   v.GetInt(KeyQueueSize),
		FallbackExt: v.GetString(KeyFallbackExt),
		UserAgent:   v.GetString(KeyUserAgent),
		LogLevel:    strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:   strings.ToLower(v.GetString(KeyLogFormat)),
		MetricsAddr: v.GetString(KeyMetricsAddr),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("%s must be non-negative, got %s", KeyTimeout, c.Timeout)
	case c.Workers < 1:
		return fmt.Errorf("%s must be positive, got %d", KeyWorkers, c.Workers)
	case c.QueueSize < 0:
		return fmt.Errorf("%s must be non-negative, got %d", KeyQueueSize, c.QueueSize)
	case strings.ContainsAny(c.FallbackExt, `/\`):
		return fmt.Errorf("%s must not contain path separators: %q", KeyFallbackExt, c.FallbackExt)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown %s %q", KeyLogLevel, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown %s %q", KeyLogFormat, c.LogFormat)
	}
	return nil
}
