package notify_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/botfleet/internal/adapters/notify"
	"github.com/alejandrodnm/botfleet/internal/domain"
)

func TestFileLog_NewestFirst(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "notifications.jsonl")
	log, err := notify.NewFileLog(path)
	require.NoError(t, err)

	got, err := log.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, log.Notify(ctx, domain.Notification{
			ID: id, BotID: "bot_1_1", Message: "m", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err = log.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "n3", got[0].ID)
	assert.Equal(t, "n1", got[2].ID)
	assert.True(t, got[2].Timestamp.Equal(base))
}

func TestFileLog_SkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notifications.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"id\":\"ok\",\"bot_id\":\"b\"}\n\n"), 0o644))

	log, err := notify.NewFileLog(path)
	require.NoError(t, err)
	got, err := log.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)
}

func TestFileLog_Clear(t *testing.T) {
	ctx := context.Background()
	log, err := notify.NewFileLog(filepath.Join(t.TempDir(), "notifications.jsonl"))
	require.NoError(t, err)

	require.NoError(t, log.ClearNotifications(ctx), "clearing a missing file is fine")
	require.NoError(t, log.Notify(ctx, domain.Notification{ID: "n1"}))
	require.NoError(t, log.ClearNotifications(ctx))

	got, err := log.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingSink struct{ calls int }

func (f *failingSink) Notify(context.Context, domain.Notification) error {
	f.calls++
	return errors.New("sink down")
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	ctx := context.Background()
	log, err := notify.NewFileLog(filepath.Join(t.TempDir(), "notifications.jsonl"))
	require.NoError(t, err)
	bad := &failingSink{}

	err = notify.Fanout{bad, nil, log}.Notify(ctx, domain.Notification{ID: "n1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, 1, bad.calls)

	got, err := log.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
