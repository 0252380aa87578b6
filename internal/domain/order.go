package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle of an outbound item-transfer order.
//
//	pending → sent → completed
//	               → not_accepted
//
// pending is also where an order rests while its items cannot be located.
type OrderStatus string

const (
	OrderPending     OrderStatus = "pending"
	OrderSent        OrderStatus = "sent"
	OrderCompleted   OrderStatus = "completed"
	OrderNotAccepted OrderStatus = "not_accepted"
)

// Valid reports whether s belongs to the closed status set.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderSent, OrderCompleted, OrderNotAccepted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderNotAccepted
}

// CanTransition reports whether from → to is an edge of the order state machine.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderPending:
		return to == OrderSent
	case OrderSent:
		return to == OrderCompleted || to == OrderNotAccepted
	}
	return false
}

// Predecessors returns the statuses that may transition into to.
func Predecessors(to OrderStatus) []OrderStatus {
	switch to {
	case OrderSent:
		return []OrderStatus{OrderPending}
	case OrderCompleted, OrderNotAccepted:
		return []OrderStatus{OrderSent}
	}
	return nil
}

// Order is a request to send specific items from a bot to a counterparty.
type Order struct {
	ID             string      `json:"id"`
	BotID          string      `json:"bot_id"`
	Items          []ItemRef   `json:"items"`
	CounterpartyID string      `json:"partner_id"`
	Status         OrderStatus `json:"status"`
	RemoteOfferID  string      `json:"offer_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewOrder builds a pending order with a fresh id.
func NewOrder(botID, counterpartyID string, items []ItemRef, now time.Time) (Order, error) {
	if botID == "" {
		return Order{}, &ValidationError{Field: "bot_id", Reason: "is required"}
	}
	if counterpartyID == "" {
		return Order{}, &ValidationError{Field: "partner_id", Reason: "is required"}
	}
	if len(items) == 0 {
		return Order{}, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	seen := make(map[ItemRef]struct{}, len(items))
	for i, it := range items {
		if it.AssetID == "" || it.AppID <= 0 {
			return Order{}, &ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "assetid and appid are required"}
		}
		if _, dup := seen[it]; dup {
			return Order{}, &ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "duplicate item"}
		}
		seen[it] = struct{}{}
	}
	return Order{
		ID:             uuid.New().String(),
		BotID:          botID,
		Items:          items,
		CounterpartyID: counterpartyID,
		Status:         OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// OfferMessage is the message attached to the protocol offer for this order.
func (o Order) OfferMessage() string {
	return "Order #" + o.ID
}

// RemoteOfferStatus is the protocol-side status of an offer previously submitted.
type RemoteOfferStatus string

const (
	RemoteAccepted RemoteOfferStatus = "accepted"
	RemoteDeclined RemoteOfferStatus = "declined"
	RemoteExpired  RemoteOfferStatus = "expired"
	RemotePending  RemoteOfferStatus = "pending"
	RemoteUnknown  RemoteOfferStatus = "unknown"
)

// ResolveSent maps a remote status to the next status of a sent order.
// ok is false for ambiguous states, which leave the order unchanged.
func ResolveSent(remote RemoteOfferStatus) (next OrderStatus, ok bool) {
	switch remote {
	case RemoteAccepted:
		return OrderCompleted, true
	case RemoteDeclined, RemoteExpired:
		return OrderNotAccepted, true
	}
	return "", false
}
