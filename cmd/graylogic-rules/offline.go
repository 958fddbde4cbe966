package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/logging"
)

// errOffline is returned by offlineActuator for every request.
var errOffline = errors.New("actuator offline")

// offlineActuator backs registries opened by maintenance commands. Those
// commands never evaluate, so nothing should reach it.
type offlineActuator struct{}

func (offlineActuator) SetDevice(context.Context, string, bool) error { return errOffline }
func (offlineActuator) ActivateScene(context.Context, string) error   { return errOffline }
func (offlineActuator) Notify(context.Context, string) error          { return errOffline }

// withOfflineRegistry opens the configured database, loads the registry
// without MQTT and calls fn with both.
func withOfflineRegistry(ctx context.Context, configPath string, fn func(*database.DB, *automation.Registry) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// stdout may carry the exported document.
	log := logging.NewWithWriter(cfg.Logging, version, os.Stderr)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := loadRegistry(ctx, cfg, db, offlineActuator{}, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	return fn(db, registry)
}

// exportDocument serialises the stored automations and execution log.
func exportDocument(ctx context.Context, configPath string) ([]byte, error) {
	var data []byte
	err := withOfflineRegistry(ctx, configPath, func(_ *database.DB, r *automation.Registry) error {
		var serr error
		data, serr = r.Serialize()
		if serr != nil {
			return fmt.Errorf("serialising registry: %w", serr)
		}
		return nil
	})
	return data, err
}

// importDocument replaces the stored automations and execution log with
// data and returns the number of automations now stored.
func importDocument(ctx context.Context, configPath string, data []byte) (int, error) {
	var n int
	err := withOfflineRegistry(ctx, configPath, func(db *database.DB, r *automation.Registry) error {
		if derr := r.Deserialize(ctx, data); derr != nil {
			return fmt.Errorf("importing document: %w", derr)
		}
		n = r.Count()

		entry := &audit.Entry{
			Action:  audit.ActionImport,
			Source:  audit.SourceCLI,
			Details: map[string]any{"automations": n},
		}
		if aerr := audit.NewSQLiteRepository(db.DB).Create(ctx, entry); aerr != nil {
			return fmt.Errorf("recording import: %w", aerr)
		}
		return nil
	})
	return n, err
}

// backupDatabase copies the configured database to dest.
func backupDatabase(ctx context.Context, configPath, dest string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.NewWithWriter(cfg.Logging, version, os.Stderr)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Backup(ctx, dest); err != nil {
		return err
	}
	log.Info("database backed up", "source", db.Path(), "dest", dest)
	return nil
}
