package ports

import (
	"context"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// InventoryStore keeps the last captured inventory per bot.
type InventoryStore interface {
	SaveInventory(ctx context.Context, botID string, inv domain.Inventory) error

	// LoadInventory returns nil without error when nothing was captured yet.
	LoadInventory(ctx context.Context, botID string) (*domain.Inventory, error)
}
