package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/botfleet/config"
	"github.com/alejandrodnm/botfleet/internal/logging"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	list := flag.Bool("list", false, "print registered bots and exit")
	name := flag.String("name", "", "with -list: only bots whose name contains this")
	username := flag.String("username", "", "with -list: only bots whose account contains this")
	appID := flag.Int("game-app-id", 0, "with -list: only bots trading this game")
	notifications := flag.Bool("notifications", false, "print admin notifications and exit")
	clearNotifications := flag.Bool("clear-notifications", false, "clear admin notifications and exit")
	backup := flag.Bool("backup", false, "write one backup of the bot store and exit")
	restore := flag.String("restore", "", "load a bot store backup file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	switch {
	case *list:
		err = runList(cfg, listFilter{name: *name, username: *username, appID: *appID})
	case *notifications || *clearNotifications:
		err = runNotifications(cfg, *clearNotifications)
	case *backup:
		err = runBackup(cfg)
	case *restore != "":
		err = runRestore(cfg, *restore)
	default:
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		err = serve(ctx, cfg, *configPath)
	}
	if err != nil {
		slog.Error("botfleet exited with error", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	slog.SetDefault(slog.New(logging.NewHandler(os.Stdout, cfg.Level, cfg.Format)))
}
