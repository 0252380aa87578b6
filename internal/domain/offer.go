package domain

import "time"

// OfferState mirrors the trade offer states reported by the protocol.
type OfferState int

const (
	OfferStateInvalid OfferState = iota + 1
	OfferStateActive             // open, awaiting a response
	OfferStateAccepted
	OfferStateCountered
	OfferStateExpired
	OfferStateCanceled
	OfferStateDeclined
	OfferStateInvalidItems
)

func (s OfferState) String() string {
	switch s {
	case OfferStateActive:
		return "active"
	case OfferStateAccepted:
		return "accepted"
	case OfferStateCountered:
		return "countered"
	case OfferStateExpired:
		return "expired"
	case OfferStateCanceled:
		return "canceled"
	case OfferStateDeclined:
		return "declined"
	case OfferStateInvalidItems:
		return "invalid_items"
	}
	return "invalid"
}

// Offer is an incoming protocol offer addressed to a bot.
type Offer struct {
	ID             string     `json:"tradeofferid"`
	BotID          string     `json:"bot_id,omitempty"`
	PartnerID      string     `json:"partner_id"`
	State          OfferState `json:"trade_offer_state"`
	ItemsToGive    []ItemRef  `json:"items_to_give,omitempty"`
	ItemsToReceive []ItemRef  `json:"items_to_receive,omitempty"`
	Message        string     `json:"message,omitempty"`
	CreatedAt      time.Time  `json:"time_created"`
}

// Open reports whether the offer still awaits a response and must be cancelled.
func (o Offer) Open() bool {
	return o.State == OfferStateActive
}
