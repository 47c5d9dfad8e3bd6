package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/mailmirror/internal/config"
	"github.com/mixelka/mailmirror/internal/crypto"
	"github.com/mixelka/mailmirror/internal/database"
	"github.com/mixelka/mailmirror/internal/imap"
	syncdriver "github.com/mixelka/mailmirror/internal/sync"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mailbox synchronization engine")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Credential cipher
	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize cipher", "error", err)
		os.Exit(1)
	}

	// Connection registry
	registry := imap.NewRegistry(db, imap.RegistryConfig{
		DialTimeout: cfg.IMAPDialTimeout,
		BackoffBase: cfg.ReconnectBackoffBase,
		BackoffMax:  cfg.ReconnectBackoffMax,
	}, logger)
	registry.SetDecryptFunc(func(encrypted string) string {
		decrypted, err := cipher.Decrypt(encrypted)
		if err != nil {
			logger.Error("failed to decrypt credentials", "error", err)
			return ""
		}
		return decrypted
	})
	defer registry.Close()

	// Engine components
	folderSync := imap.NewFolderSynchronizer(registry, db, logger)
	messageSync := imap.NewMessageSynchronizer(registry, db, logger)
	messageSync.BodyRepairLimit = cfg.BodyRepairLimit

	// Log new-mail events; UI consumers subscribe the same way
	events := registry.Subscribe()
	go func() {
		for ev := range events {
			logger.Info("new mail", "account_id", ev.AccountID, "folder_id", ev.FolderID, "count", ev.Count)
		}
	}()

	// Periodic driver
	poller := syncdriver.New(registry, db, folderSync, messageSync, syncdriver.Config{
		Interval:        cfg.PollInterval,
		FolderSyncEvery: cfg.FolderSyncEvery,
		WatchFolders:    cfg.WatchFolders,
	}, logger)
	if err := poller.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", "signal", sig)
	poller.Stop()
	registry.DisconnectAll()
	logger.Info("engine stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
