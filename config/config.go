// Package config loads the application settings from a YAML file and lets
// USERADMIN_* environment variables override individual values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/session"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "USERADMIN_"

type App struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level string `yaml:"level"`
	// SlowQuery is the threshold above which statements are logged as warnings.
	SlowQuery time.Duration `yaml:"slow_query"`
}

// Config is the whole settings file.
type Config struct {
	App      App            `yaml:"app"`
	Database db.Config      `yaml:"database"`
	HTTP     HTTP           `yaml:"http"`
	Session  session.Config `yaml:"session"`
	Log      Log            `yaml:"log"`
}

// Default returns the settings used when neither the file nor the
// environment sets a value.
func Default() Config {
	return Config{
		App: App{Name: "useradmin", Version: "dev"},
		Database: db.Config{
			Driver:       "sqlite3",
			DBName:       "useradmin.db",
			MaxOpenConns: 1,
		},
		HTTP: HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:  Log{Level: "info", SlowQuery: 200 * time.Millisecond},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values every binary depends on. Connection
// parameters are checked by db.New against the chosen driver.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("config: http.addr is required")
	}
	if strings.TrimSpace(c.Database.Driver) == "" {
		return fmt.Errorf("config: database.driver is required")
	}
	return nil
}

// LogLevel maps Log.Level to a slog level; unknown names mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) applyEnv() error {
	c.App.Name = envString("APP_NAME", c.App.Name)
	c.App.Version = envString("APP_VERSION", c.App.Version)

	c.Database.Driver = envString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.Host = envString("DATABASE_HOST", c.Database.Host)
	c.Database.Charset = envString("DATABASE_CHARSET", c.Database.Charset)
	c.Database.DBName = envString("DATABASE_DBNAME", c.Database.DBName)
	c.Database.Username = envString("DATABASE_USERNAME", c.Database.Username)
	c.Database.Password = envString("DATABASE_PASSWORD", c.Database.Password)

	var err error
	if c.Database.Port, err = envInt("DATABASE_PORT", c.Database.Port); err != nil {
		return err
	}
	if c.Database.MaxOpenConns, err = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns); err != nil {
		return err
	}
	if c.Database.DefaultTimeout, err = envDuration("DATABASE_DEFAULT_TIMEOUT", c.Database.DefaultTimeout); err != nil {
		return err
	}

	c.HTTP.Addr = envString("HTTP_ADDR", c.HTTP.Addr)
	if c.HTTP.ShutdownTimeout, err = envDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout); err != nil {
		return err
	}

	c.Session.CookieName = envString("SESSION_COOKIE_NAME", c.Session.CookieName)
	if c.Session.Secure, err = envBool("SESSION_SECURE", c.Session.Secure); err != nil {
		return err
	}

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Environment helpers
// ─────────────────────────────────────────────────────────────────────────────

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envString(key, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}
