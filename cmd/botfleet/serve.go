package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/botfleet/config"
	"github.com/alejandrodnm/botfleet/internal/adapters/httpapi"
	"github.com/alejandrodnm/botfleet/internal/adapters/notify"
	"github.com/alejandrodnm/botfleet/internal/adapters/steam"
	"github.com/alejandrodnm/botfleet/internal/adapters/storage"
	"github.com/alejandrodnm/botfleet/internal/application/fleet"
	"github.com/alejandrodnm/botfleet/internal/application/maintenance"
	"github.com/alejandrodnm/botfleet/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	slog.Info("botfleet starting",
		"config", configPath,
		"interval", cfg.WorkerInterval(),
		"max_errors", cfg.Worker.MaxErrors,
		"gateway", cfg.Trading.BaseURL,
		"api", cfg.API.Addr,
		"auto_resume", cfg.Maintenance.AutoResume,
	)

	configs, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer configs.Close()

	store, err := openOrderStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	callLogs, err := logging.NewCallLogs(cfg.Log.Dir, logging.Rotation{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, logging.ParseLevel(cfg.Log.Level))
	if err != nil {
		return err
	}
	defer callLogs.Close()

	notes, err := notify.NewFileLog(cfg.Notify.File)
	if err != nil {
		return err
	}
	hub := httpapi.NewHub(slog.Default())

	clients := steam.Factory(steam.Options{
		BaseURL:      cfg.Trading.BaseURL,
		Timeout:      cfg.TradingTimeout(),
		RatePerSec:   cfg.Trading.RatePerSecond,
		Burst:        cfg.Trading.Burst,
		ProbeURL:     cfg.Trading.ProbeURL,
		ProbeTimeout: cfg.ProbeTimeout(),
	}, callLogs)

	registry := fleet.New(fleet.Config{
		Interval:              cfg.WorkerInterval(),
		IdleInterval:          cfg.WorkerIdle(),
		Cooldown:              cfg.WorkerCooldown(),
		MaxErrors:             cfg.Worker.MaxErrors,
		InventoryRefreshEvery: cfg.Worker.InventoryRefreshEvery,
		InventoryMaxAge:       cfg.InventoryMaxAge(),
		NotifyTimeout:         cfg.NotifyTimeout(),
	}, fleet.Deps{
		Clients:     clients,
		Orders:      store,
		Inventories: store,
		Configs:     configs,
		Sink:        notify.Fanout{notes, hub, notify.NewConsole()},
		CallLogs:    callLogs,
		Logger:      slog.Default(),
	})

	// Workers outlive the signal context; Shutdown stops them after their
	// current cycle.
	if err := registry.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	health := maintenance.NewHealthMonitor(registry, maintenance.HealthConfig{
		Interval:   cfg.HealthInterval(),
		WarnErrors: cfg.Maintenance.WarnErrors,
		AutoResume: cfg.Maintenance.AutoResume,
	}, slog.Default())
	go health.Run(ctx)

	backups := maintenance.NewBackups(configs, maintenance.BackupConfig{
		Dir:      cfg.Maintenance.BackupDir,
		Interval: cfg.BackupInterval(),
		Keep:     cfg.Maintenance.BackupKeep,
	}, slog.Default())
	go backups.Run(ctx)

	var httpSrv *http.Server
	serveErr := make(chan error, 1)
	if cfg.APIEnabled() {
		api := httpapi.New(httpapi.Deps{
			Fleet:         registry,
			Orders:        store,
			Notifications: notes,
			Hub:           hub,
			Logger:        slog.Default(),
		})
		httpSrv = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("admin api listening", "addr", cfg.API.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("admin api: %w", err)
	}

	slog.Info("botfleet stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin api shutdown", "err", err)
		}
	}
	hub.Close()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr == nil {
		slog.Info("botfleet stopped cleanly")
	}
	return runErr
}

func openConfigStore(cfg *config.Config) (*storage.BadgerConfigStore, error) {
	store, err := storage.OpenBadgerConfigStore(storage.BadgerOptions{
		Path:          cfg.Storage.BadgerDir,
		EncryptionKey: []byte(cfg.Storage.EncryptionKey),
	})
	if err != nil {
		return nil, fmt.Errorf("open bot store %q: %w", cfg.Storage.BadgerDir, err)
	}
	return store, nil
}

func openOrderStore(cfg *config.Config) (*storage.SQLiteStorage, error) {
	if cfg.Storage.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open order store %q: %w", cfg.Storage.DSN, err)
	}
	return store, nil
}
