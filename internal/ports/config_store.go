package ports

import (
	"context"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// BotConfigStore persists bot identities together with a status snapshot.
// The registry reads it at startup and writes it at shutdown and on lifecycle changes.
type BotConfigStore interface {
	LoadAll(ctx context.Context) (map[string]domain.BotRecord, error)
	SaveAll(ctx context.Context, records map[string]domain.BotRecord) error

	Save(ctx context.Context, record domain.BotRecord) error

	// Load returns a *domain.NotFoundError when the bot is unknown.
	Load(ctx context.Context, botID string) (domain.BotRecord, error)

	Delete(ctx context.Context, botID string) error
}
