package domain

import (
	"strings"
	"time"
)

// BotIdentity is the immutable description of a bot, fixed at registration.
type BotIdentity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AccountName    string    `json:"account_name"`    // protocol login
	CredentialsRef string    `json:"credentials_ref"` // path to the credentials file, never the secret itself
	GameAppID      int       `json:"game_app_id"`
	ProxyRef       string    `json:"proxy"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks that every required identity field is present.
// The ID is allocated by the registry and is not checked here.
func (b BotIdentity) Validate() error {
	switch {
	case strings.TrimSpace(b.Name) == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case strings.TrimSpace(b.AccountName) == "":
		return &ValidationError{Field: "account_name", Reason: "is required"}
	case strings.TrimSpace(b.CredentialsRef) == "":
		return &ValidationError{Field: "credentials_ref", Reason: "is required"}
	case b.GameAppID <= 0:
		return &ValidationError{Field: "game_app_id", Reason: "must be a positive app id"}
	case strings.TrimSpace(b.ProxyRef) == "":
		return &ValidationError{Field: "proxy", Reason: "is required"}
	}
	return nil
}

// BotStatus is the published, read-only view of a bot's mutable state.
type BotStatus struct {
	Active      bool      `json:"active"`
	ErrorCount  int       `json:"error_count"`
	Escalated   bool      `json:"escalated"`
	LastError   string    `json:"last_error,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
}

// BotRecord is one registry entry as listed and persisted.
type BotRecord struct {
	Identity BotIdentity `json:"identity"`
	Status   BotStatus   `json:"status"`
}

// Item is one asset held in a bot's inventory.
type Item struct {
	AssetID        string `json:"assetid"`
	AppID          int    `json:"appid"`
	ClassID        string `json:"classid,omitempty"`
	Name           string `json:"name,omitempty"`
	MarketHashName string `json:"market_hash_name,omitempty"`
}

// Ref returns the identifying pair of the item.
func (i Item) Ref() ItemRef {
	return ItemRef{AssetID: i.AssetID, AppID: i.AppID}
}

// ItemRef identifies an item by (assetId, appId).
type ItemRef struct {
	AssetID string `json:"assetid"`
	AppID   int    `json:"appid"`
}

// Inventory is the last captured inventory of a bot. It is replaced wholesale on
// refresh and must never be mutated after it is published.
type Inventory struct {
	AppID      int       `json:"app_id"`
	Items      []Item    `json:"items"`
	CapturedAt time.Time `json:"captured_at"`
}

// Stale reports whether the snapshot is older than maxAge at now.
func (inv *Inventory) Stale(now time.Time, maxAge time.Duration) bool {
	if inv == nil {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(inv.CapturedAt) > maxAge
}

// Locate returns the inventory items matching every ref, in ref order.
// ok is false when at least one ref has no exact (assetId, appId) match.
// An item is never matched twice.
func (inv *Inventory) Locate(refs []ItemRef) (found []Item, ok bool) {
	if inv == nil {
		return nil, false
	}
	used := make(map[int]bool, len(refs))
	for _, ref := range refs {
		matched := false
		for i, item := range inv.Items {
			if used[i] {
				continue
			}
			if item.AssetID == ref.AssetID && item.AppID == ref.AppID {
				found = append(found, item)
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return found, false
		}
	}
	return found, true
}
