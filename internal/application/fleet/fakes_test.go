package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

var errNetwork = &domain.ProtocolError{Op: "FetchIncomingOffers", Kind: domain.ProtocolTransient, Err: errors.New("connection reset")}

// fakeClient is a scriptable TradingClient. Nil funcs succeed with zero values.
type fakeClient struct {
	mu sync.Mutex

	fetchOffers func(ctx context.Context) ([]domain.Offer, error)
	cancelOffer func(ctx context.Context, id string) (bool, error)
	inventory   func(ctx context.Context, appID int) ([]domain.Item, error)
	submit      func(ctx context.Context, partner string, items []domain.Item, msg string) (string, error)
	query       func(ctx context.Context, remoteID string) (domain.RemoteOfferStatus, error)

	fetchCalls     int
	inventoryCalls int
	cancelled      []string
	submitted      [][]domain.Item
	messages       []string
}

var _ ports.TradingClient = (*fakeClient)(nil)

func (f *fakeClient) FetchIncomingOffers(ctx context.Context) ([]domain.Offer, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.fetchOffers
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeClient) CancelOffer(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	fn := f.cancelOffer
	f.mu.Unlock()
	ok, err := true, error(nil)
	if fn != nil {
		ok, err = fn(ctx, id)
	}
	if err == nil && ok {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, id)
		f.mu.Unlock()
	}
	return ok, err
}

func (f *fakeClient) FetchInventory(ctx context.Context, appID int) ([]domain.Item, error) {
	f.mu.Lock()
	f.inventoryCalls++
	fn := f.inventory
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, appID)
}

func (f *fakeClient) SubmitOffer(ctx context.Context, partner string, items []domain.Item, msg string) (string, error) {
	f.mu.Lock()
	fn := f.submit
	f.mu.Unlock()
	if fn == nil {
		fn = func(context.Context, string, []domain.Item, string) (string, error) { return "remote-1", nil }
	}
	id, err := fn(ctx, partner, items, msg)
	if err == nil {
		f.mu.Lock()
		f.submitted = append(f.submitted, items)
		f.messages = append(f.messages, msg)
		f.mu.Unlock()
	}
	return id, err
}

func (f *fakeClient) QueryOfferStatus(ctx context.Context, remoteID string) (domain.RemoteOfferStatus, error) {
	f.mu.Lock()
	fn := f.query
	f.mu.Unlock()
	if fn == nil {
		return domain.RemotePending, nil
	}
	return fn(ctx, remoteID)
}

func (f *fakeClient) calls() (fetch, inventory int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.inventoryCalls
}

// memOrders enforces the order state machine like the sqlite store does.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	offers map[string][]domain.Offer

	listErr error
}

var _ ports.OrderStore = (*memOrders)(nil)

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]domain.Order{}, offers: map[string][]domain.Offer{}}
}

func (m *memOrders) CreateOrder(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) GetOrder(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, &domain.NotFoundError{Kind: "order", ID: id}
	}
	return o, nil
}

func (m *memOrders) ListByStatus(_ context.Context, botID string, status domain.OrderStatus) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Order
	for _, o := range m.orders {
		if o.BotID == botID && o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return &domain.NotFoundError{Kind: "order", ID: id}
	}
	if !domain.CanTransition(o.Status, status) {
		return fmt.Errorf("memOrders: %w", domain.ErrInvalidTransition)
	}
	o.Status = status
	if remoteID != "" {
		o.RemoteOfferID = remoteID
	}
	m.orders[id] = o
	return nil
}

func (m *memOrders) SaveOffers(_ context.Context, botID string, offers []domain.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[botID] = append(m.offers[botID], offers...)
	return nil
}

func (m *memOrders) put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

// memConfigs is an in-memory BotConfigStore.
type memConfigs struct {
	mu      sync.Mutex
	records   map[string]domain.BotRecord
	saveErr   error
	deleteErr error
}

var _ ports.BotConfigStore = (*memConfigs)(nil)

func newMemConfigs() *memConfigs {
	return &memConfigs{records: map[string]domain.BotRecord{}}
}

func (m *memConfigs) LoadAll(context.Context) (map[string]domain.BotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.BotRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

func (m *memConfigs) SaveAll(_ context.Context, recs map[string]domain.BotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range recs {
		m.records[k] = v
	}
	return nil
}

func (m *memConfigs) Save(_ context.Context, rec domain.BotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[rec.Identity.ID] = rec
	return nil
}

func (m *memConfigs) Load(_ context.Context, id string) (domain.BotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.BotRecord{}, &domain.NotFoundError{Kind: "bot", ID: id}
	}
	return rec, nil
}

func (m *memConfigs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *memConfigs) failDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

func (m *memConfigs) get(id string) (domain.BotRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// recordingSink keeps every notification it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Notification
}

func (s *recordingSink) Notify(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, n)
	return nil
}

func (s *recordingSink) all() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.events...)
}

// fakeCallLogs records archived bot ids.
type fakeCallLogs struct {
	mu       sync.Mutex
	archived []string
}

func (f *fakeCallLogs) Logger(string) *slog.Logger { return slog.Default() }

func (f *fakeCallLogs) Archive(botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, botID)
	return nil
}

func (f *fakeCallLogs) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.archived...)
}
