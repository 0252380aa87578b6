package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

// Deps are the collaborators shared by the registry and its workers.
type Deps struct {
	Clients     ports.ClientFactory
	Orders      ports.OrderStore
	Inventories ports.InventoryStore // optional
	Configs     ports.BotConfigStore
	Sink        ports.EscalationSink
	CallLogs    ports.CallLogs // optional
	Logger      *slog.Logger
}

// entry is one registry slot. op serialises lifecycle operations that replace
// or remove the worker; worker and cancel are only touched while op is held.
type entry struct {
	op      sync.Mutex
	state   *botState // guarded by Registry.mu
	worker  *Worker
	cancel  context.CancelFunc
	removed bool
}

// Registry owns every bot and guarantees at most one live worker per bot id.
type Registry struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	runCtx  context.Context // nil until Start and after Shutdown
	stopAll context.CancelFunc

	wg sync.WaitGroup
}

// New creates an empty registry. Workers are spawned only after Start.
func New(cfg Config, deps Deps) *Registry {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Start restores every persisted bot and spawns its worker.
func (r *Registry) Start(ctx context.Context) error {
	records, err := r.deps.Configs.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("fleet.Start: load bots: %w", err)
	}

	r.mu.Lock()
	if r.runCtx != nil {
		r.mu.Unlock()
		return errors.New("fleet.Start: already started")
	}
	for id, rec := range records {
		if _, exists := r.entries[id]; exists {
			continue
		}
		rec.Identity.ID = id
		r.entries[id] = &entry{state: restoreBotState(rec)}
	}
	r.runCtx, r.stopAll = context.WithCancel(ctx)
	all := r.snapshotLocked()
	r.mu.Unlock()

	for _, e := range all {
		e.op.Lock()
		r.spawn(e)
		e.op.Unlock()
	}
	r.log.Info("fleet: started", "bots", len(all))
	return nil
}

// Shutdown asks every worker to finish its current cycle, waits for them
// (bounded by ctx) and persists the final snapshot of every bot.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	stopAll := r.stopAll
	r.runCtx, r.stopAll = nil, nil
	all := r.snapshotLocked()
	r.mu.Unlock()

	for _, e := range all {
		e.op.Lock()
		if e.worker != nil {
			e.worker.Stop()
		}
		e.op.Unlock()
	}
	defer r.releaseExited(all)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("fleet.Shutdown: workers still running: %w", ctx.Err())
	}
	if stopAll != nil {
		stopAll()
	}

	records := make(map[string]domain.BotRecord, len(all))
	for _, e := range all {
		rec := r.stateOf(e).record()
		records[rec.Identity.ID] = rec
	}
	saveCtx := context.WithoutCancel(ctx)
	if err := r.deps.Configs.SaveAll(saveCtx, records); err != nil {
		return errors.Join(waitErr, fmt.Errorf("fleet.Shutdown: save bots: %w", err))
	}
	r.log.Info("fleet: shut down", "bots", len(records))
	return waitErr
}

// Register validates identity, allocates a fresh id, persists the bot and
// spawns its worker when the registry is running.
func (r *Registry) Register(ctx context.Context, identity domain.BotIdentity) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", fmt.Errorf("fleet.Register: %w", err)
	}

	r.mu.Lock()
	identity.ID = r.nextIDLocked()
	identity.CreatedAt = r.now().UTC()
	e := &entry{state: newBotState(identity, true)}
	e.op.Lock()
	defer e.op.Unlock()
	r.entries[identity.ID] = e
	r.mu.Unlock()

	if err := r.deps.Configs.Save(ctx, e.state.record()); err != nil {
		r.mu.Lock()
		delete(r.entries, identity.ID)
		r.mu.Unlock()
		e.removed = true
		return "", fmt.Errorf("fleet.Register: persist %s: %w", identity.ID, err)
	}

	r.spawn(e)
	r.log.Info("fleet: bot registered", "bot_id", identity.ID, "name", identity.Name, "game_app_id", identity.GameAppID)
	return identity.ID, nil
}

// Pause stops the bot from executing cycles. Pausing a paused bot is a no-op.
func (r *Registry) Pause(ctx context.Context, botID string) error {
	e, err := r.lookup(botID)
	if err != nil {
		return fmt.Errorf("fleet.Pause: %w", err)
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("fleet.Pause: %w", &domain.NotFoundError{Kind: "bot", ID: botID})
	}
	st := r.stateOf(e)
	if st.pause() {
		r.log.Info("fleet: bot paused", "bot_id", botID)
	}
	r.persist(ctx, st)
	return nil
}

// Resume reactivates the bot and clears its error count and escalation latch.
func (r *Registry) Resume(ctx context.Context, botID string) error {
	e, err := r.lookup(botID)
	if err != nil {
		return fmt.Errorf("fleet.Resume: %w", err)
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("fleet.Resume: %w", &domain.NotFoundError{Kind: "bot", ID: botID})
	}
	st := r.stateOf(e)
	st.resume()
	mtxErrorCount.WithLabelValues(botID).Set(0)
	r.log.Info("fleet: bot resumed", "bot_id", botID)
	r.persist(ctx, st)
	return nil
}

// Restart replaces the bot's worker with one bound to fresh state. With force
// the running cycle stops before its next step; otherwise the bot is paused and
// the worker finishes its current cycle first. Calls already in flight always
// complete. The old worker has exited before the new one starts.
func (r *Registry) Restart(ctx context.Context, botID string, force bool) error {
	e, err := r.lookup(botID)
	if err != nil {
		return fmt.Errorf("fleet.Restart: %w", err)
	}

	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("fleet.Restart: %w", &domain.NotFoundError{Kind: "bot", ID: botID})
	}

	old := r.stateOf(e)
	if !force {
		old.pause()
	}
	if err := r.stopWorker(ctx, e, force); err != nil {
		return fmt.Errorf("fleet.Restart: %w", err)
	}

	if r.deps.CallLogs != nil {
		if err := r.deps.CallLogs.Archive(botID); err != nil {
			r.log.Warn("fleet: archive call log", "bot_id", botID, "err", err)
		}
	}

	identity := old.identity
	rec, err := r.deps.Configs.Load(ctx, botID)
	switch {
	case err == nil:
		identity = rec.Identity
		identity.ID = botID
	default:
		r.log.Warn("fleet: reload identity, keeping in-memory copy", "bot_id", botID, "err", err)
	}

	fresh := newBotState(identity, true)
	r.mu.Lock()
	e.state = fresh
	r.mu.Unlock()
	mtxErrorCount.WithLabelValues(botID).Set(0)
	r.persist(ctx, fresh)

	r.spawn(e)
	r.log.Info("fleet: bot restarted", "bot_id", botID, "force", force)
	return nil
}

// Delete pauses the bot, cancels its worker and removes it from the
// configuration store and then from the registry. When the store refuses, the
// bot stays registered, paused, with a fresh worker.
func (r *Registry) Delete(ctx context.Context, botID string) error {
	e, err := r.lookup(botID)
	if err != nil {
		return fmt.Errorf("fleet.Delete: %w", err)
	}

	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("fleet.Delete: %w", &domain.NotFoundError{Kind: "bot", ID: botID})
	}

	st := r.stateOf(e)
	st.pause()
	if err := r.stopWorker(ctx, e, true); err != nil {
		return fmt.Errorf("fleet.Delete: %w", err)
	}

	if err := r.deps.Configs.Delete(ctx, botID); err != nil {
		r.persist(ctx, st)
		r.spawn(e)
		return fmt.Errorf("fleet.Delete: remove %s from store: %w", botID, err)
	}

	r.mu.Lock()
	delete(r.entries, botID)
	r.mu.Unlock()
	e.removed = true
	mtxErrorCount.DeleteLabelValues(botID)
	r.log.Info("fleet: bot deleted", "bot_id", botID)
	return nil
}

// List returns the bots matching filter, oldest first. It reads published
// snapshots only and never waits on a worker.
func (r *Registry) List(filter domain.BotFilter) []domain.BotRecord {
	r.mu.RLock()
	out := make([]domain.BotRecord, 0, len(r.entries))
	for _, e := range r.entries {
		rec := e.state.record()
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Get returns the identity and published status of one bot.
func (r *Registry) Get(botID string) (domain.BotRecord, error) {
	e, err := r.lookup(botID)
	if err != nil {
		return domain.BotRecord{}, fmt.Errorf("fleet.Get: %w", err)
	}
	return r.stateOf(e).record(), nil
}

// Status returns the bot's published status summary.
func (r *Registry) Status(botID string) (domain.BotStatus, error) {
	e, err := r.lookup(botID)
	if err != nil {
		return domain.BotStatus{}, fmt.Errorf("fleet.Status: %w", err)
	}
	return r.stateOf(e).status(), nil
}

// Inventory returns the bot's current inventory snapshot, nil when none was
// captured yet. The snapshot must be treated as read-only.
func (r *Registry) Inventory(botID string) (*domain.Inventory, error) {
	e, err := r.lookup(botID)
	if err != nil {
		return nil, fmt.Errorf("fleet.Inventory: %w", err)
	}
	return r.stateOf(e).currentInventory(), nil
}

// BotItem is an inventory item together with the bot holding it.
type BotItem struct {
	BotID   string      `json:"bot_id"`
	BotName string      `json:"bot_name"`
	Item    domain.Item `json:"item"`
}

// AvailableItems lists the inventory items of every active bot.
func (r *Registry) AvailableItems() []BotItem {
	var out []BotItem
	for _, rec := range r.List(domain.BotFilter{}) {
		if !rec.Status.Active {
			continue
		}
		inv, err := r.Inventory(rec.Identity.ID)
		if err != nil || inv == nil {
			continue
		}
		for _, item := range inv.Items {
			out = append(out, BotItem{BotID: rec.Identity.ID, BotName: rec.Identity.Name, Item: item})
		}
	}
	return out
}

// Stats is a fleet-wide summary.
type Stats struct {
	Total     int `json:"total_bots"`
	Active    int `json:"active_bots"`
	Paused    int `json:"paused_bots"`
	Escalated int `json:"escalated_bots"`
	Items     int `json:"total_items"`
}

// Stats counts bots by state and the items they hold.
func (r *Registry) Stats() Stats {
	var s Stats
	for _, rec := range r.List(domain.BotFilter{}) {
		s.Total++
		if rec.Status.Active {
			s.Active++
		} else {
			s.Paused++
		}
		if rec.Status.Escalated {
			s.Escalated++
		}
		if inv, _ := r.Inventory(rec.Identity.ID); inv != nil {
			s.Items += len(inv.Items)
		}
	}
	return s
}

func (r *Registry) lookup(botID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[botID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "bot", ID: botID}
	}
	return e, nil
}

func (r *Registry) stateOf(e *entry) *botState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.state
}

func (r *Registry) snapshotLocked() []*entry {
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	return all
}

// nextIDLocked allocates bot_<seq>_<unix>. seq never repeats within the
// process; ids restored from the store are skipped.
func (r *Registry) nextIDLocked() string {
	for {
		r.seq++
		id := fmt.Sprintf("bot_%d_%d", r.seq, r.now().Unix())
		if _, taken := r.entries[id]; !taken {
			return id
		}
	}
}

// spawn starts a worker for e if the registry is running and e has none.
// The caller holds e.op.
func (r *Registry) spawn(e *entry) {
	r.mu.RLock()
	runCtx := r.runCtx
	st := e.state
	r.mu.RUnlock()
	if runCtx == nil || e.worker != nil || e.removed {
		return
	}

	identity := st.identity
	connect := func() (ports.TradingClient, error) {
		return r.deps.Clients(identity)
	}
	ctx, cancel := context.WithCancel(runCtx)
	w := newWorker(st, connect, r.deps.Orders, r.deps.Inventories, r.deps.Sink, r.log, r.cfg)
	e.worker, e.cancel = w, cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		w.Run(ctx)
	}()
}

// stopWorker ends e's worker and waits for it to exit. The caller holds e.op.
func (r *Registry) stopWorker(ctx context.Context, e *entry, force bool) error {
	if e.worker == nil {
		return nil
	}
	if force {
		e.cancel()
	} else {
		e.worker.Stop()
	}
	select {
	case <-e.worker.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker: %w", ctx.Err())
	}
	e.worker, e.cancel = nil, nil
	return nil
}

// releaseExited forgets the workers that have returned so a later Start can
// spawn new ones.
func (r *Registry) releaseExited(all []*entry) {
	for _, e := range all {
		e.op.Lock()
		if e.worker != nil {
			select {
			case <-e.worker.Done():
				e.worker, e.cancel = nil, nil
			default:
			}
		}
		e.op.Unlock()
	}
}

// persist writes the bot's current record. Failures are logged only.
func (r *Registry) persist(ctx context.Context, st *botState) {
	if err := r.deps.Configs.Save(ctx, st.record()); err != nil {
		r.log.Warn("fleet: persist bot", "bot_id", st.identity.ID, "err", err)
	}
}

func restoreBotState(rec domain.BotRecord) *botState {
	s := newBotState(rec.Identity, rec.Status.Active)
	s.errorCount = rec.Status.ErrorCount
	s.escalated = rec.Status.Escalated
	s.lastErr = rec.Status.LastError
	s.lastCycle = rec.Status.LastCycleAt
	s.publishLocked()
	return s
}
