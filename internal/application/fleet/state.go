package fleet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// botState is the mutable record of one bot. mu guards active, errorCount and
// the escalation latch; the worker holds it only for read-modify-write, never
// across protocol calls, so lifecycle operations never wait on a cycle.
// Readers outside the worker use the published snapshots.
type botState struct {
	identity domain.BotIdentity

	mu         sync.Mutex
	active     bool
	errorCount int
	escalated  bool // set when the error budget is exhausted; cleared by resume
	lastErr    string
	lastCycle  time.Time

	published atomic.Pointer[domain.BotStatus]
	inventory atomic.Pointer[domain.Inventory]

	wake chan struct{} // buffered(1): nudges an idle worker after resume
}

func newBotState(identity domain.BotIdentity, active bool) *botState {
	s := &botState{
		identity: identity,
		active:   active,
		wake:     make(chan struct{}, 1),
	}
	s.publishLocked()
	return s
}

// publishLocked stores a fresh status snapshot. Callers hold mu (or own s exclusively).
func (s *botState) publishLocked() {
	st := domain.BotStatus{
		Active:      s.active,
		ErrorCount:  s.errorCount,
		Escalated:   s.escalated,
		LastError:   s.lastErr,
		LastCycleAt: s.lastCycle,
	}
	s.published.Store(&st)
}

func (s *botState) status() domain.BotStatus {
	return *s.published.Load()
}

func (s *botState) record() domain.BotRecord {
	return domain.BotRecord{Identity: s.identity, Status: s.status()}
}

func (s *botState) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// pause reports whether the flag changed.
func (s *botState) pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	s.publishLocked()
	return true
}

// resume activates the bot and clears its failure history.
func (s *botState) resume() {
	s.mu.Lock()
	s.active = true
	s.errorCount = 0
	s.escalated = false
	s.lastErr = ""
	s.publishLocked()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// recordSuccess resets the consecutive failure count.
func (s *botState) recordSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount = 0
	s.lastErr = ""
	s.lastCycle = now
	s.publishLocked()
}

// recordFailure counts one failing cycle. escalate is true exactly once per
// threshold crossing: the latch stays set until resume.
func (s *botState) recordFailure(err error, maxErrors int, now time.Time) (count int, escalate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.lastErr = err.Error()
	s.lastCycle = now
	if s.errorCount >= maxErrors && !s.escalated {
		s.escalated = true
		s.active = false
		escalate = true
	}
	s.publishLocked()
	return s.errorCount, escalate
}

func (s *botState) setInventory(inv *domain.Inventory) {
	s.inventory.Store(inv)
}

func (s *botState) currentInventory() *domain.Inventory {
	return s.inventory.Load()
}
