// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvDBPath         = "LIBRARY_DB_PATH"
	EnvAddr           = "LIBRARY_ADDR"
	EnvStorageTimeout = "LIBRARY_STORAGE_TIMEOUT"
	EnvLogLevel       = "LIBRARY_LOG_LEVEL"
	EnvLogFormat      = "LIBRARY_LOG_FORMAT"
)

// Config holds everything the CLI and HTTP server need to start.
type Config struct {
	DBPath         string
	Addr           string
	StorageTimeout time.Duration
	LogLevel       slog.Level
	LogFormat      string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DBPath:         "library.db",
		Addr:           ":8080",
		StorageTimeout: 5 * time.Second,
		LogLevel:       slog.LevelInfo,
		LogFormat:      "text",
	}
}

// Load reads the given .env files (or ./.env when none are named), then the
// process environment. A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvStorageTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvStorageTimeout, err)
		}
		cfg.StorageTimeout = d
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("database path must not be empty")
	}
	if c.StorageTimeout <= 0 {
		return errors.New("storage timeout must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the structured logger described by c.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
