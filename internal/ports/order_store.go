package ports

import (
	"context"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// OrderStore is the durable order-id to order mapping. Incoming offers seen by
// a bot are recorded here too.
type OrderStore interface {
	// CreateOrder records a new pending order (order intake).
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns a *domain.NotFoundError when the id is unknown.
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)

	// ListByStatus returns the bot's orders in status, oldest first.
	ListByStatus(ctx context.Context, botID string, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateStatus moves an order forward. remoteOfferID is stored when non-empty.
	// A change that breaks the order state machine fails with domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, remoteOfferID string) error

	// SaveOffers upserts the incoming offers fetched by a bot.
	SaveOffers(ctx context.Context, botID string, offers []domain.Offer) error
}
