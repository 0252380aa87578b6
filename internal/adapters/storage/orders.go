package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// CreateOrder inserts a new order. Re-inserting an existing id is an error.
func (s *SQLiteStorage) CreateOrder(ctx context.Context, o domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("storage.CreateOrder: encode items: %w", err)
	}
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, bot_id, partner_id, items, status, offer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BotID, o.CounterpartyID, string(items), string(o.Status), o.RemoteOfferID,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.CreateOrder: insert %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns one order by id.
func (s *SQLiteStorage) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orders, err := s.queryOrders(ctx, `WHERE id = ?`, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("storage.GetOrder: %w", err)
	}
	if len(orders) == 0 {
		return domain.Order{}, &domain.NotFoundError{Kind: "order", ID: orderID}
	}
	return orders[0], nil
}

// ListByStatus returns the bot's orders in status, oldest first.
func (s *SQLiteStorage) ListByStatus(ctx context.Context, botID string, status domain.OrderStatus) ([]domain.Order, error) {
	orders, err := s.queryOrders(ctx, `WHERE bot_id = ? AND status = ? ORDER BY created_at, id`, botID, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage.ListByStatus: %w", err)
	}
	return orders, nil
}

// ListOrders returns orders newest first. Empty botID or status match everything.
func (s *SQLiteStorage) ListOrders(ctx context.Context, botID string, status domain.OrderStatus) ([]domain.Order, error) {
	var conds []string
	var args []any
	if botID != "" {
		conds = append(conds, "bot_id = ?")
		args = append(args, botID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	orders, err := s.queryOrders(ctx, where+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOrders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order forward along the state machine. The predecessor
// check runs inside the UPDATE so a concurrent writer cannot regress the order.
func (s *SQLiteStorage) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, remoteOfferID string) error {
	preds := domain.Predecessors(status)
	if len(preds) == 0 {
		return fmt.Errorf("storage.UpdateStatus: order %s to %q: %w", orderID, status, domain.ErrInvalidTransition)
	}

	args := []any{string(status), remoteOfferID, remoteOfferID, formatTime(s.now()), orderID}
	placeholders := make([]string, len(preds))
	for i, p := range preds {
		placeholders[i] = "?"
		args = append(args, string(p))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?,
		    offer_id = CASE WHEN ? <> '' THEN ? ELSE offer_id END,
		    updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.UpdateStatus: %w", &domain.NotFoundError{Kind: "order", ID: orderID})
	}
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: read current: %w", err)
	}
	return fmt.Errorf("storage.UpdateStatus: order %s %s -> %s: %w", orderID, current, status, domain.ErrInvalidTransition)
}

// SaveOffers upserts the incoming offers fetched by a bot.
func (s *SQLiteStorage) SaveOffers(ctx context.Context, botID string, offers []domain.Offer) error {
	if len(offers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveOffers: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incoming_offers
		  (id, bot_id, partner_id, state, items_to_give, items_to_receive, message, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  state = excluded.state,
		  last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("storage.SaveOffers: prepare: %w", err)
	}
	defer stmt.Close()

	seen := formatTime(s.now())
	for _, o := range offers {
		give, _ := json.Marshal(refsOrEmpty(o.ItemsToGive))
		receive, _ := json.Marshal(refsOrEmpty(o.ItemsToReceive))
		if _, err := stmt.ExecContext(ctx,
			o.ID, botID, o.PartnerID, int(o.State), string(give), string(receive), o.Message,
			formatTime(o.CreatedAt), seen,
		); err != nil {
			return fmt.Errorf("storage.SaveOffers: upsert %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveOffers: commit: %w", err)
	}
	return nil
}

// ListOffers returns the incoming offers recorded for a bot, newest first.
func (s *SQLiteStorage) ListOffers(ctx context.Context, botID string) ([]domain.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, partner_id, state, items_to_give, items_to_receive, message, created_at
		FROM incoming_offers
		WHERE bot_id = ?
		ORDER BY created_at DESC, id`, botID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOffers: query: %w", err)
	}
	defer rows.Close()

	var offers []domain.Offer
	for rows.Next() {
		var o domain.Offer
		var state int
		var give, receive, created string
		if err := rows.Scan(&o.ID, &o.PartnerID, &state, &give, &receive, &o.Message, &created); err != nil {
			return nil, fmt.Errorf("storage.ListOffers: scan row: %w", err)
		}
		o.BotID = botID
		o.State = domain.OfferState(state)
		o.CreatedAt = parseTime(created)
		_ = json.Unmarshal([]byte(give), &o.ItemsToGive)
		_ = json.Unmarshal([]byte(receive), &o.ItemsToReceive)
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *SQLiteStorage) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, partner_id, items, status, offer_id, created_at, updated_at
		FROM orders `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var items, status, created, updated string
		if err := rows.Scan(&o.ID, &o.BotID, &o.CounterpartyID, &items, &status, &o.RemoteOfferID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
			return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
		}
		o.Status = domain.OrderStatus(status)
		o.CreatedAt = parseTime(created)
		o.UpdatedAt = parseTime(updated)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func refsOrEmpty(refs []domain.ItemRef) []domain.ItemRef {
	if refs == nil {
		return []domain.ItemRef{}
	}
	return refs
}
