package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/botfleet/internal/ports"
)

// Rotation bounds one call log file. Zero values use lumberjack's defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// CallLogs writes every protocol call of a bot as JSON lines to
// <dir>/<id>_calls.log, rotated by size.
type CallLogs struct {
	dir      string
	rotation Rotation
	level    slog.Level

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

var _ ports.CallLogs = (*CallLogs)(nil)

// NewCallLogs creates dir if needed.
func NewCallLogs(dir string, rotation Rotation, level slog.Level) (*CallLogs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging.NewCallLogs: %w", err)
	}
	return &CallLogs{
		dir:      dir,
		rotation: rotation,
		level:    level,
		writers:  make(map[string]*lumberjack.Logger),
	}, nil
}

// Path returns the active call log file of a bot.
func (c *CallLogs) Path(botID string) string {
	return filepath.Join(c.dir, botID+"_calls.log")
}

// Logger returns a logger writing to the bot's call log. Loggers for the same
// bot share one file writer.
func (c *CallLogs) Logger(botID string) *slog.Logger {
	h := slog.NewJSONHandler(c.writer(botID), &slog.HandlerOptions{Level: c.level})
	return slog.New(h).With("bot_id", botID)
}

// Archive rotates the bot's call log so the next writes start a new file.
// A bot that never logged has nothing to archive.
func (c *CallLogs) Archive(botID string) error {
	c.mu.Lock()
	w, ok := c.writers[botID]
	c.mu.Unlock()
	if !ok {
		if _, err := os.Stat(c.Path(botID)); err != nil {
			return nil
		}
		w = c.writer(botID)
	}
	if err := w.Rotate(); err != nil {
		return fmt.Errorf("logging.Archive: %s: %w", botID, err)
	}
	return nil
}

// Close closes every open call log.
func (c *CallLogs) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for id, w := range c.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.writers, id)
	}
	return first
}

func (c *CallLogs) writer(botID string) *lumberjack.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.writers[botID]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   c.Path(botID),
		MaxSize:    c.rotation.MaxSizeMB,
		MaxBackups: c.rotation.MaxBackups,
		MaxAge:     c.rotation.MaxAgeDays,
		Compress:   c.rotation.Compress,
		LocalTime:  true,
	}
	c.writers[botID] = w
	return w
}
