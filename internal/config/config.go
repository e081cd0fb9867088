package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for wxdashd.
type Config struct {
	ListenAddr string         `mapstructure:"listen_addr"`
	LogFormat  string         `mapstructure:"log_format"`
	CORSOrigin string         `mapstructure:"cors_origin"`
	Storage    StorageConfig  `mapstructure:"storage"`
	Provider   ProviderConfig `mapstructure:"provider"`
}

// StorageConfig defines the database backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProviderConfig holds weatherstack client configuration. The API key is a
// required external input and is never defaulted.
type ProviderConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the provider request timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $WXDASHD_CONFIG env → ~/.config/wxdashd/config.yaml → /etc/wxdashd/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "weather_dashboard.db")
	v.SetDefault("provider.base_url", "http://api.weatherstack.com/current")
	v.SetDefault("provider.timeout_seconds", 10)

	// Env var support
	v.SetEnvPrefix("WXDASHD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("WXDASHD_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		// Try ~/.config/wxdashd/config.yaml first
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "wxdashd"))
		}
		// Fall back to /etc/wxdashd/config.yaml
		v.AddConfigPath("/etc/wxdashd")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		// Warn if config file is world-readable; it may hold the API key.
		if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
			if info, err := os.Stat(cfgPath); err == nil {
				perm := info.Mode().Perm()
				if perm&0004 != 0 {
					slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Allow the provider credential to come from the environment so it never
	// has to live in the config file (e.g. container secret injection).
	if key := os.Getenv("WXDASHD_PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (or set WXDASHD_PROVIDER_API_KEY)")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
		dir := filepath.Dir(c.Storage.SQLite.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating storage directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	default:
		return ""
	}
}
