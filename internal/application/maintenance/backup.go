package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "botconfigs_"
	backupSuffix = ".bak"
	backupLayout = "20060102T150405.000Z"
)

// Source produces a full backup stream. storage.BadgerConfigStore implements it.
type Source interface {
	Backup(ctx context.Context, w io.Writer) error
}

// BackupConfig controls where backups go and how many are kept.
type BackupConfig struct {
	Dir      string
	Interval time.Duration // default 24h
	Keep     int           // default 50
}

// Backups writes timestamped backup files and prunes the oldest.
type Backups struct {
	src Source
	cfg BackupConfig
	log *slog.Logger
	now func() time.Time
}

// NewBackups applies defaults to cfg.
func NewBackups(src Source, cfg BackupConfig, log *slog.Logger) *Backups {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backups{src: src, cfg: cfg, log: log, now: time.Now}
}

// Run takes a backup on every tick until ctx is cancelled.
func (b *Backups) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if path, err := b.Create(ctx); err != nil {
				b.log.Error("backup failed", "err", err)
			} else {
				b.log.Info("backup created", "path", path)
			}
		}
	}
}

// Create writes one backup and prunes old ones. A failed backup leaves no file behind.
func (b *Backups) Create(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("maintenance.Create: %w", err)
	}

	name := backupPrefix + b.now().UTC().Format(backupLayout) + backupSuffix
	path := filepath.Join(b.cfg.Dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("maintenance.Create: %w", err)
	}
	if err := b.src.Backup(ctx, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("maintenance.Create: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("maintenance.Create: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("maintenance.Create: rename: %w", err)
	}

	if err := b.prune(); err != nil {
		b.log.Warn("backup prune failed", "err", err)
	}
	return path, nil
}

// List returns the backup files, newest first.
func (b *Backups) List() ([]string, error) {
	entries, err := os.ReadDir(b.cfg.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("maintenance.List: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	// the timestamp layout sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(b.cfg.Dir, n)
	}
	return paths, nil
}

func (b *Backups) prune() error {
	paths, err := b.List()
	if err != nil {
		return err
	}
	if len(paths) <= b.cfg.Keep {
		return nil
	}
	for _, p := range paths[b.cfg.Keep:] {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
