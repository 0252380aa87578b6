package storage

// sqlite.go: order, incoming offer and inventory persistence.
//
// Tables:
//   orders           one row per order; status only moves forward (see UpdateStatus)
//   incoming_offers  upserted on every fetch; rows not seen for 30 days are pruned at startup
//   inventories      last captured inventory per bot, replaced wholesale

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          TEXT PRIMARY KEY,
    bot_id      TEXT NOT NULL,
    partner_id  TEXT NOT NULL,
    items       TEXT NOT NULL,          -- JSON [{assetid, appid}]
    status      TEXT NOT NULL DEFAULT 'pending',
    offer_id    TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_bot_status ON orders(bot_id, status);

CREATE TABLE IF NOT EXISTS incoming_offers (
    id                TEXT PRIMARY KEY,
    bot_id            TEXT NOT NULL,
    partner_id        TEXT NOT NULL DEFAULT '',
    state             INTEGER NOT NULL,
    items_to_give     TEXT NOT NULL DEFAULT '[]',
    items_to_receive  TEXT NOT NULL DEFAULT '[]',
    message           TEXT NOT NULL DEFAULT '',
    created_at        TEXT,
    last_seen         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_offers_bot ON incoming_offers(bot_id);

CREATE TABLE IF NOT EXISTS inventories (
    bot_id       TEXT PRIMARY KEY,
    app_id       INTEGER NOT NULL,
    items        TEXT NOT NULL,
    captured_at  TEXT NOT NULL
);
`

const retentionOffers = 30 * 24 * time.Hour

// SQLiteStorage implements ports.OrderStore and ports.InventoryStore on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema and prunes stale incoming offers.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld drops incoming offers that have not been seen for a while. Orders
// are never deleted here.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retentionOffers))
	res, err := s.db.ExecContext(ctx, `DELETE FROM incoming_offers WHERE last_seen < ?`, cutoff)
	if err != nil {
		slog.Warn("storage: prune incoming offers", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug("storage: pruned incoming offers", "rows", n)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
