package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// call detaches ctx for protocol and store calls. Cancellation is only checked
// between steps and between orders; a started call is bounded by the client
// timeout.
func call(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// handleIncomingOffers records every incoming offer and cancels the open ones.
// The bot never accepts unsolicited offers.
func (w *Worker) handleIncomingOffers(ctx context.Context, result *CycleResult) error {
	offers, err := w.client.FetchIncomingOffers(call(ctx))
	if err != nil {
		return fmt.Errorf("fleet.handleIncomingOffers: fetch: %w", err)
	}
	result.OffersSeen = len(offers)
	if len(offers) == 0 {
		return nil
	}

	if err := w.orders.SaveOffers(call(ctx), w.state.identity.ID, offers); err != nil {
		result.fail(fmt.Errorf("fleet.handleIncomingOffers: save: %w", err))
	}

	for _, offer := range offers {
		if !offer.Open() {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		ok, err := w.client.CancelOffer(call(ctx), offer.ID)
		switch {
		case err != nil:
			result.CancelFailures++
			w.log.Warn("worker: cancel incoming offer", "offer_id", offer.ID, "err", err)
		case !ok:
			result.CancelFailures++
			w.log.Warn("worker: incoming offer not cancelled", "offer_id", offer.ID)
		default:
			result.OffersCancelled++
			mtxOffersCancelled.Inc()
			w.log.Info("worker: cancelled incoming offer", "offer_id", offer.ID, "partner_id", offer.PartnerID)
		}
	}
	return nil
}

// reconcileSentOrders moves sent orders to a terminal status once the remote
// side has decided. Ambiguous remote states leave the order as it is.
func (w *Worker) reconcileSentOrders(ctx context.Context, result *CycleResult) error {
	sent, err := w.orders.ListByStatus(ctx, w.state.identity.ID, domain.OrderSent)
	if err != nil {
		return fmt.Errorf("fleet.reconcileSentOrders: list: %w", err)
	}

	for _, order := range sent {
		if ctx.Err() != nil {
			return nil
		}
		remote, err := w.client.QueryOfferStatus(call(ctx), order.RemoteOfferID)
		if err != nil {
			result.fail(fmt.Errorf("fleet.reconcileSentOrders: order %s: %w", order.ID, err))
			continue
		}
		next, ok := domain.ResolveSent(remote)
		if !ok {
			continue
		}
		if err := w.transition(call(ctx), order, next, ""); err != nil {
			result.fail(err)
			continue
		}
		if next == domain.OrderCompleted {
			result.Completed++
		} else {
			result.NotAccepted++
		}
	}
	return nil
}

// processPendingOrders submits every pending order whose items are all present
// in the inventory snapshot.
func (w *Worker) processPendingOrders(ctx context.Context, result *CycleResult) error {
	pending, err := w.orders.ListByStatus(ctx, w.state.identity.ID, domain.OrderPending)
	if err != nil {
		return fmt.Errorf("fleet.processPendingOrders: list: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	if w.state.currentInventory().Stale(w.now(), w.cfg.InventoryMaxAge) {
		if err := w.refreshInventory(ctx, result); err != nil {
			return err
		}
	}

	for _, order := range pending {
		if ctx.Err() != nil {
			return nil
		}
		items, ok := w.state.currentInventory().Locate(order.Items)
		if !ok {
			result.Waiting++
			w.log.Debug("worker: order items not in inventory", "order_id", order.ID)
			continue
		}

		remoteID, err := w.client.SubmitOffer(call(ctx), order.CounterpartyID, items, order.OfferMessage())
		if err != nil {
			result.fail(fmt.Errorf("fleet.processPendingOrders: submit order %s: %w", order.ID, err))
			continue
		}
		if remoteID == "" {
			result.fail(fmt.Errorf("fleet.processPendingOrders: submit order %s: empty remote offer id", order.ID))
			continue
		}
		if err := w.transition(call(ctx), order, domain.OrderSent, remoteID); err != nil {
			// The remote offer exists while the order is still pending here.
			w.log.Error("worker: offer sent but order not updated",
				"order_id", order.ID, "remote_offer_id", remoteID, "err", err)
			result.fail(err)
			continue
		}
		result.Sent++
		w.log.Info("worker: order sent", "order_id", order.ID, "remote_offer_id", remoteID, "items", len(items))

		// The offered items are no longer available to other orders.
		if ctx.Err() != nil {
			return nil
		}
		if err := w.refreshInventory(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// periodicRefresh bounds inventory staleness when no orders are flowing.
func (w *Worker) periodicRefresh(ctx context.Context, result *CycleResult) error {
	if w.cycles%w.cfg.InventoryRefreshEvery != 0 || result.InventoryRefreshed {
		return nil
	}
	return w.refreshInventory(ctx, result)
}

// refreshInventory replaces the snapshot wholesale. Persisting it is best effort.
func (w *Worker) refreshInventory(ctx context.Context, result *CycleResult) error {
	appID := w.state.identity.GameAppID
	items, err := w.client.FetchInventory(call(ctx), appID)
	if err != nil {
		return fmt.Errorf("fleet.refreshInventory: %w", err)
	}
	inv := &domain.Inventory{AppID: appID, Items: items, CapturedAt: w.now()}
	w.state.setInventory(inv)
	result.InventoryRefreshed = true
	w.log.Debug("worker: inventory refreshed", "items", len(items))

	if w.inventories != nil {
		if err := w.inventories.SaveInventory(call(ctx), w.state.identity.ID, *inv); err != nil {
			w.log.Warn("worker: persist inventory", "err", err)
		}
	}
	return nil
}

func (w *Worker) transition(ctx context.Context, order domain.Order, next domain.OrderStatus, remoteID string) error {
	if !domain.CanTransition(order.Status, next) {
		return fmt.Errorf("fleet.transition: order %s %s -> %s: %w", order.ID, order.Status, next, domain.ErrInvalidTransition)
	}
	if err := w.orders.UpdateStatus(ctx, order.ID, next, remoteID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			w.log.Warn("worker: order changed underneath", "order_id", order.ID, "to", next)
		}
		return fmt.Errorf("fleet.transition: order %s: %w", order.ID, err)
	}
	mtxOrderTransitions.WithLabelValues(string(next)).Inc()
	w.log.Info("worker: order transition", "order_id", order.ID, "from", order.Status, "to", next)
	return nil
}
