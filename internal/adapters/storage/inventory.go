package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// SaveInventory replaces the stored inventory of a bot.
func (s *SQLiteStorage) SaveInventory(ctx context.Context, botID string, inv domain.Inventory) error {
	items := inv.Items
	if items == nil {
		items = []domain.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("storage.SaveInventory: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventories (bot_id, app_id, items, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
		  app_id = excluded.app_id,
		  items = excluded.items,
		  captured_at = excluded.captured_at`,
		botID, inv.AppID, string(raw), formatTime(inv.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveInventory: upsert %s: %w", botID, err)
	}
	return nil
}

// LoadInventory returns the last stored inventory, or nil if there is none.
func (s *SQLiteStorage) LoadInventory(ctx context.Context, botID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	var raw, captured string
	err := s.db.QueryRowContext(ctx,
		`SELECT app_id, items, captured_at FROM inventories WHERE bot_id = ?`, botID,
	).Scan(&inv.AppID, &raw, &captured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LoadInventory: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &inv.Items); err != nil {
		return nil, fmt.Errorf("storage.LoadInventory: decode %s: %w", botID, err)
	}
	inv.CapturedAt = parseTime(captured)
	return &inv, nil
}
