package notify

// file.go: admin notification history as JSON lines, oldest first on disk.

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

// FileLog appends notifications to a JSONL file and reads them back.
type FileLog struct {
	path string
	mu   sync.Mutex
}

var (
	_ ports.EscalationSink  = (*FileLog)(nil)
	_ ports.NotificationLog = (*FileLog)(nil)
)

// NewFileLog creates the parent directory of path if needed.
func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("notify.NewFileLog: %w", err)
	}
	return &FileLog{path: path}, nil
}

// Notify appends n as one line.
func (f *FileLog) Notify(_ context.Context, n domain.Notification) error {
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify.Notify: encode: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("notify.Notify: open: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("notify.Notify: write: %w", err)
	}
	return file.Close()
}

// ListNotifications returns every stored notification, newest first.
// Lines that do not decode are skipped.
func (f *FileLog) ListNotifications(_ context.Context) ([]domain.Notification, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify.ListNotifications: %w", err)
	}

	out := []domain.Notification{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var n domain.Notification
		if json.Unmarshal(line, &n) != nil {
			continue
		}
		out = append(out, n)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("notify.ListNotifications: scan: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// ClearNotifications empties the history.
func (f *FileLog) ClearNotifications(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Truncate(f.path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("notify.ClearNotifications: %w", err)
	}
	return nil
}
