package ports

import (
	"context"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// TradingClient executes protocol operations for one bot account. Login is the
// adapter's concern. Every call is bounded by the client's own timeout and
// failures are returned as *domain.ProtocolError.
type TradingClient interface {
	// FetchIncomingOffers returns the offers other accounts sent to this bot.
	FetchIncomingOffers(ctx context.Context) ([]domain.Offer, error)

	// CancelOffer declines or cancels an offer. The bool reports whether the
	// remote side acknowledged the cancellation.
	CancelOffer(ctx context.Context, offerID string) (bool, error)

	// FetchInventory returns the tradable items the bot holds for appID.
	FetchInventory(ctx context.Context, appID int) ([]domain.Item, error)

	// SubmitOffer sends items to counterpartyID and returns the remote offer id.
	SubmitOffer(ctx context.Context, counterpartyID string, items []domain.Item, message string) (string, error)

	// QueryOfferStatus reports the remote status of a previously submitted offer.
	QueryOfferStatus(ctx context.Context, remoteOfferID string) (domain.RemoteOfferStatus, error)
}

// ClientFactory builds the trading client bound to a bot identity.
type ClientFactory func(identity domain.BotIdentity) (TradingClient, error)
