package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

// CycleResult summarises one worker iteration.
type CycleResult struct {
	BotID     string
	StartedAt time.Time

	Skipped   bool // bot was paused, nothing executed
	Cancelled bool // context cancelled mid-cycle, not counted as a failure
	Aborted   bool // a step could not run; the worker cools down
	Panicked  bool

	OffersSeen      int
	OffersCancelled int
	CancelFailures  int

	Completed   int
	NotAccepted int
	Sent        int
	Waiting     int // pending orders whose items are not in the inventory

	InventoryRefreshed bool

	Errors     []error
	ErrorCount int  // bot error count after accounting
	Escalated  bool // this cycle crossed the error budget
}

// Failed reports whether the cycle counts toward the bot's error budget.
func (r *CycleResult) Failed() bool {
	return !r.Cancelled && (len(r.Errors) > 0 || r.Panicked)
}

// Err joins every failure recorded in the cycle.
func (r *CycleResult) Err() error {
	return errors.Join(r.Errors...)
}

func (r *CycleResult) fail(err error) {
	r.Errors = append(r.Errors, err)
}

// Worker drives one bot through repeated poll/react cycles.
type Worker struct {
	state       *botState
	connect     func() (ports.TradingClient, error)
	client      ports.TradingClient // built on the first executed cycle
	orders      ports.OrderStore
	inventories ports.InventoryStore
	sink        ports.EscalationSink
	log         *slog.Logger
	cfg         Config
	now         func() time.Time

	cycles int // executed (non-skipped) cycles, drives periodic refresh

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newWorker(
	state *botState,
	connect func() (ports.TradingClient, error),
	orders ports.OrderStore,
	inventories ports.InventoryStore,
	sink ports.EscalationSink,
	log *slog.Logger,
	cfg Config,
) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		state:       state,
		connect:     connect,
		orders:      orders,
		inventories: inventories,
		sink:        sink,
		log:         log.With("bot_id", state.identity.ID),
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Stop asks the worker to exit once the current cycle has finished.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run loops until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	mtxWorkers.Inc()
	defer mtxWorkers.Dec()

	w.loadInventory(ctx)
	w.log.Info("worker: started")

	for {
		if w.stopping(ctx) {
			w.log.Info("worker: stopped")
			return
		}

		result := w.RunOnce(ctx)

		if !w.wait(ctx, w.nextWait(result)) {
			w.log.Info("worker: stopped")
			return
		}
	}
}

// RunOnce executes a single cycle, including failure accounting and escalation.
// Paused bots return a skipped result without calling the protocol.
func (w *Worker) RunOnce(ctx context.Context) *CycleResult {
	result := &CycleResult{BotID: w.state.identity.ID, StartedAt: w.now()}

	if !w.state.isActive() {
		result.Skipped = true
		result.ErrorCount = w.state.status().ErrorCount
		mtxCycles.WithLabelValues("skipped").Inc()
		return result
	}

	w.cycles++
	w.runSteps(ctx, result)
	mtxCycleSeconds.Observe(w.now().Sub(result.StartedAt).Seconds())

	if ctx.Err() != nil {
		result.Cancelled = true
	}
	w.account(ctx, result)
	return result
}

// runSteps executes the cycle body in its fixed order. A panic anywhere in the
// body is converted into a failed, aborted cycle.
func (w *Worker) runSteps(ctx context.Context, result *CycleResult) {
	defer func() {
		if p := recover(); p != nil {
			result.Panicked = true
			result.Aborted = true
			result.fail(fmt.Errorf("fleet.Worker: panic in cycle: %v", p))
			w.log.Error("worker: recovered panic", "panic", p)
		}
	}()

	if w.client == nil {
		client, err := w.connect()
		if err != nil {
			result.Aborted = true
			result.fail(fmt.Errorf("fleet.Worker: connect: %w", err))
			return
		}
		w.client = client
	}

	steps := []func(context.Context, *CycleResult) error{
		w.handleIncomingOffers,
		w.reconcileSentOrders,
		w.processPendingOrders,
		w.periodicRefresh,
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			return
		}
		if err := step(ctx, result); err != nil {
			result.Aborted = true
			result.fail(err)
			return
		}
	}
}

// account applies the error-count policy to the finished cycle.
func (w *Worker) account(ctx context.Context, result *CycleResult) {
	now := w.now()
	switch {
	case result.Cancelled:
		result.ErrorCount = w.state.status().ErrorCount
		return
	case !result.Failed():
		w.state.recordSuccess(now)
		mtxCycles.WithLabelValues("ok").Inc()
		mtxErrorCount.WithLabelValues(result.BotID).Set(0)
		return
	}

	err := result.Err()
	count, escalate := w.state.recordFailure(err, w.cfg.MaxErrors, now)
	result.ErrorCount = count
	mtxErrorCount.WithLabelValues(result.BotID).Set(float64(count))
	if result.Aborted {
		mtxCycles.WithLabelValues("aborted").Inc()
	} else {
		mtxCycles.WithLabelValues("failed").Inc()
	}
	w.log.Warn("worker: cycle failed", "error_count", count, "max_errors", w.cfg.MaxErrors, "err", err)

	if escalate {
		result.Escalated = true
		result.fail(domain.ErrEscalationThresholdReached)
		w.escalate(ctx, count, err)
	}
}

func (w *Worker) escalate(ctx context.Context, count int, lastErr error) {
	mtxEscalations.Inc()
	n := domain.NewEscalation(w.state.identity, count, lastErr, w.now())
	w.log.Error("worker: error budget exhausted, bot paused", "error_count", count)

	if w.sink == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.NotifyTimeout)
	defer cancel()
	if err := w.sink.Notify(nctx, n); err != nil {
		w.log.Error("worker: escalation notify failed", "err", err)
	}
}

func (w *Worker) nextWait(result *CycleResult) time.Duration {
	switch {
	case result.Aborted:
		return w.cfg.Cooldown
	case !w.state.isActive():
		return w.cfg.IdleInterval
	}
	return w.cfg.Interval
}

// wait sleeps for d. It returns false when the worker must exit. A resume
// cuts the wait short.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-w.state.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// loadInventory seeds the cache from the last persisted snapshot.
func (w *Worker) loadInventory(ctx context.Context) {
	if w.inventories == nil || w.state.currentInventory() != nil {
		return
	}
	inv, err := w.inventories.LoadInventory(ctx, w.state.identity.ID)
	if err != nil {
		w.log.Warn("worker: load persisted inventory", "err", err)
		return
	}
	if inv != nil {
		w.state.setInventory(inv)
	}
}
