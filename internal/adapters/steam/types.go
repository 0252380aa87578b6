package steam

import (
	"time"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// Wire DTOs of the trade gateway. Only used inside this package; mapping to
// domain types happens below.

type loginRequest struct {
	AccountName  string `json:"account_name"`
	Password     string `json:"password"`
	SharedSecret string `json:"shared_secret,omitempty"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
	SteamID      string `json:"steamid"`
}

type wireItemRef struct {
	AssetID string `json:"assetid"`
	AppID   int    `json:"appid"`
}

type wireOffer struct {
	TradeOfferID   string        `json:"tradeofferid"`
	PartnerID      string        `json:"partner_id"`
	State          int           `json:"trade_offer_state"`
	ItemsToGive    []wireItemRef `json:"items_to_give"`
	ItemsToReceive []wireItemRef `json:"items_to_receive"`
	Message        string        `json:"message"`
	TimeCreated    int64         `json:"time_created"`
}

type offersResponse struct {
	Offers []wireOffer `json:"offers"`
}

type cancelResponse struct {
	Success int `json:"success"`
}

type wireItem struct {
	AssetID        string `json:"assetid"`
	AppID          int    `json:"appid"`
	ClassID        string `json:"classid"`
	Name           string `json:"name"`
	MarketHashName string `json:"market_hash_name"`
}

type inventoryResponse struct {
	Items []wireItem `json:"items"`
}

type sendOfferRequest struct {
	PartnerID string        `json:"partner_id"`
	Items     []wireItemRef `json:"items_to_give"`
	Message   string        `json:"message"`
}

type sendOfferResponse struct {
	TradeOfferID string `json:"tradeofferid"`
}

type offerStatusResponse struct {
	TradeOfferID string `json:"tradeofferid"`
	State        int    `json:"trade_offer_state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRefs(in []wireItemRef) []domain.ItemRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.ItemRef, len(in))
	for i, r := range in {
		out[i] = domain.ItemRef{AssetID: r.AssetID, AppID: r.AppID}
	}
	return out
}

func toOffer(w wireOffer) domain.Offer {
	o := domain.Offer{
		ID:             w.TradeOfferID,
		PartnerID:      w.PartnerID,
		State:          domain.OfferState(w.State),
		ItemsToGive:    toRefs(w.ItemsToGive),
		ItemsToReceive: toRefs(w.ItemsToReceive),
		Message:        w.Message,
	}
	if w.TimeCreated > 0 {
		o.CreatedAt = time.Unix(w.TimeCreated, 0).UTC()
	}
	return o
}

func toItem(w wireItem) domain.Item {
	return domain.Item{
		AssetID:        w.AssetID,
		AppID:          w.AppID,
		ClassID:        w.ClassID,
		Name:           w.Name,
		MarketHashName: w.MarketHashName,
	}
}

// remoteStatus maps a trade offer state to the status the worker reconciles on.
// States the worker must not act on map to pending or unknown.
func remoteStatus(state int) domain.RemoteOfferStatus {
	switch domain.OfferState(state) {
	case domain.OfferStateAccepted:
		return domain.RemoteAccepted
	case domain.OfferStateDeclined:
		return domain.RemoteDeclined
	case domain.OfferStateExpired:
		return domain.RemoteExpired
	case domain.OfferStateActive, offerStateNeedsConfirmation:
		return domain.RemotePending
	}
	return domain.RemoteUnknown
}

// offerStateNeedsConfirmation is reported while a sent offer awaits mobile confirmation.
const offerStateNeedsConfirmation domain.OfferState = 9
