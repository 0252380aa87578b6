package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/alejandrodnm/botfleet/config"
	"github.com/alejandrodnm/botfleet/internal/adapters/notify"
	"github.com/alejandrodnm/botfleet/internal/application/maintenance"
	"github.com/alejandrodnm/botfleet/internal/domain"
)

// The commands below open the bot store directly, so they need the server to
// be stopped (badger holds a directory lock).

type listFilter struct {
	name     string
	username string
	appID    int
}

func runList(cfg *config.Config, f listFilter) error {
	configs, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer configs.Close()

	records, err := configs.LoadAll(context.Background())
	if err != nil {
		return err
	}
	filter := domain.BotFilter{Name: f.name, AccountName: f.username, GameAppID: f.appID}
	bots := make([]domain.BotRecord, 0, len(records))
	for _, rec := range records {
		if filter.Matches(rec) {
			bots = append(bots, rec)
		}
	}
	sort.Slice(bots, func(i, j int) bool {
		a, b := bots[i].Identity, bots[j].Identity
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	notify.NewConsole().PrintBots(bots)
	return nil
}

func runNotifications(cfg *config.Config, wipe bool) error {
	notes, err := notify.NewFileLog(cfg.Notify.File)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if wipe {
		if err := notes.ClearNotifications(ctx); err != nil {
			return err
		}
		fmt.Println("notifications cleared")
		return nil
	}
	ns, err := notes.ListNotifications(ctx)
	if err != nil {
		return err
	}
	notify.NewConsole().PrintNotifications(ns)
	return nil
}

func runBackup(cfg *config.Config) error {
	configs, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer configs.Close()

	backups := maintenance.NewBackups(configs, maintenance.BackupConfig{
		Dir:  cfg.Maintenance.BackupDir,
		Keep: cfg.Maintenance.BackupKeep,
	}, slog.Default())
	path, err := backups.Create(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("backup written to", path)
	return nil
}

func runRestore(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	configs, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer configs.Close()

	if err := configs.Restore(f); err != nil {
		return err
	}
	slog.Info("bot store restored", "from", path)
	return nil
}
