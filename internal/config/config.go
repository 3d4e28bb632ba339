// Package config loads environment-based configuration for the
// shelfsync daemon.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	// UserID is the stable account identifier the identity key is
	// derived from. Required.
	UserID string `env:"SHELF_USER_ID"`

	// RemoteURL is the base URL of the per-user remote folder API.
	// Required.
	RemoteURL string `env:"SHELF_REMOTE_URL"`

	// AccessToken is the bearer token for the remote API. Optional when
	// a token file is configured instead.
	AccessToken string `env:"SHELF_ACCESS_TOKEN"`

	// AccessTokenFile points at a file holding the bearer token,
	// re-read on refresh so an external refresher can rotate it.
	AccessTokenFile string `env:"SHELF_ACCESS_TOKEN_FILE"`

	// DataDir is where the document and state databases live.
	// Defaults to ~/.shelfsync/.
	DataDir string `env:"SHELF_DATA_DIR"`

	// SyncInterval is the period between automatic pulls.
	SyncInterval time.Duration `env:"SHELF_SYNC_INTERVAL" envDefault:"5m"`

	// LegacyPassphrase, when set, enables one-time migration of
	// payloads encrypted under the old passphrase scheme.
	LegacyPassphrase string `env:"SHELF_LEGACY_PASSPHRASE"`

	// DeviceName identifies this client to the remote store. Defaults
	// to the system hostname.
	DeviceName string `env:"SHELF_DEVICE_NAME"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default log level.
	LogLevel string `env:"SHELF_LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the access token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "shelfsync"
		}

		cfg.DeviceName = hostname
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.DataDir = filepath.Join(home, ".shelfsync")
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("SHELF_USER_ID is required")
	}

	if c.RemoteURL == "" {
		return fmt.Errorf("SHELF_REMOTE_URL is required")
	}

	u, err := url.Parse(c.RemoteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SHELF_REMOTE_URL must be an absolute URL")
	}

	if c.AccessToken == "" && c.AccessTokenFile == "" {
		return fmt.Errorf("one of SHELF_ACCESS_TOKEN or SHELF_ACCESS_TOKEN_FILE is required")
	}

	if c.SyncInterval < time.Minute {
		return fmt.Errorf("SHELF_SYNC_INTERVAL must be at least 1m, got %s", c.SyncInterval)
	}

	return nil
}

// StatePath returns the path of the sync state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// StorePath returns the path of the document database.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "documents.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
