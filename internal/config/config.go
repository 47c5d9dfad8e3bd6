package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailmirror.db"`

	// IMAP
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Sync
	PollInterval    time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"1m"`
	FolderSyncEvery int           `env:"FOLDER_SYNC_EVERY" envDefault:"10"` // folder list refresh, in poll ticks
	BodyRepairLimit int           `env:"BODY_REPAIR_LIMIT" envDefault:"50"` // empty bodies re-fetched per pass
	WatchFolders    []string      `env:"SYNC_WATCH_FOLDERS" envSeparator:","` // extra mailboxes delta-synced besides the inbox

	// Reconnect backoff
	ReconnectBackoffBase time.Duration `env:"RECONNECT_BACKOFF_BASE" envDefault:"30s"`
	ReconnectBackoffMax  time.Duration `env:"RECONNECT_BACKOFF_MAX" envDefault:"15m"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate encryption key length (32 bytes for AES-256)
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}
