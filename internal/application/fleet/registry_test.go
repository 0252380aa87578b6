package fleet

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/botfleet/internal/domain"
	"github.com/alejandrodnm/botfleet/internal/ports"
)

type registryFixture struct {
	reg      *Registry
	configs  *memConfigs
	orders   *memOrders
	sink     *recordingSink
	callLogs *fakeCallLogs

	mu      sync.Mutex
	clients map[string][]*fakeClient
	script  func(c *fakeClient)
}

func newRegistryFixture(t *testing.T, cfg Config) *registryFixture {
	t.Helper()
	f := &registryFixture{
		configs:  newMemConfigs(),
		orders:   newMemOrders(),
		sink:     &recordingSink{},
		callLogs: &fakeCallLogs{},
		clients:  map[string][]*fakeClient{},
	}
	f.reg = New(cfg, Deps{
		Clients:  f.factory,
		Orders:   f.orders,
		Configs:  f.configs,
		Sink:     f.sink,
		CallLogs: f.callLogs,
	})
	return f
}

func (f *registryFixture) factory(identity domain.BotIdentity) (ports.TradingClient, error) {
	c := &fakeClient{}
	f.mu.Lock()
	if f.script != nil {
		f.script(c)
	}
	f.clients[identity.ID] = append(f.clients[identity.ID], c)
	f.mu.Unlock()
	return c, nil
}

func (f *registryFixture) clientsFor(id string) []*fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeClient(nil), f.clients[id]...)
}

func newIdentity(name string, appID int) domain.BotIdentity {
	return domain.BotIdentity{
		Name:           name,
		AccountName:    "acct_" + name,
		CredentialsRef: "secrets/" + name + ".yaml",
		GameAppID:      appID,
		ProxyRef:       "http://10.0.0.1:3128",
	}
}

func fastConfig() Config {
	return Config{
		Interval:     5 * time.Millisecond,
		IdleInterval: 5 * time.Millisecond,
		Cooldown:     5 * time.Millisecond,
	}
}

func TestRegistry_RegisterValidates(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	bad := newIdentity("a", 730)
	bad.CredentialsRef = ""

	_, err := f.reg.Register(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "credentials_ref", ve.Field)
	assert.Empty(t, f.reg.List(domain.BotFilter{}))
}

func TestRegistry_RegisterAllocatesUniqueIDs(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()
	pattern := regexp.MustCompile(`^bot_\d+_\d+$`)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := f.reg.Register(ctx, newIdentity("bot", 730))
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		rec, ok := f.configs.get(id)
		require.True(t, ok, "record persisted")
		assert.True(t, rec.Status.Active)
		assert.Equal(t, 0, rec.Status.ErrorCount)
	}
}

func TestRegistry_RegisterSkipsRestoredIDs(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	f.reg.now = func() time.Time { return time.Unix(1700000000, 0) }
	taken := newIdentity("old", 730)
	taken.ID = "bot_1_1700000000"
	f.configs.records[taken.ID] = domain.BotRecord{Identity: taken, Status: domain.BotStatus{Active: false}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("new", 730))
	require.NoError(t, err)
	assert.Equal(t, "bot_2_1700000000", id)
}

func TestRegistry_RegisterPersistFailure(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	f.configs.saveErr = errors.New("disk full")

	_, err := f.reg.Register(context.Background(), newIdentity("a", 730))
	require.Error(t, err)
	assert.Empty(t, f.reg.List(domain.BotFilter{}))
}

func TestRegistry_UnknownBot(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()

	assert.ErrorIs(t, f.reg.Pause(ctx, "bot_9_9"), domain.ErrNotFound)
	assert.ErrorIs(t, f.reg.Resume(ctx, "bot_9_9"), domain.ErrNotFound)
	assert.ErrorIs(t, f.reg.Restart(ctx, "bot_9_9", false), domain.ErrNotFound)
	assert.ErrorIs(t, f.reg.Delete(ctx, "bot_9_9"), domain.ErrNotFound)
	_, err := f.reg.Status("bot_9_9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.reg.Inventory("bot_9_9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_PauseResume(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()
	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)

	// Give the bot an error history, as a worker would.
	e, _ := f.reg.lookup(id)
	for i := 0; i < 4; i++ {
		e.state.recordFailure(errNetwork, 10, time.Now())
	}

	require.NoError(t, f.reg.Pause(ctx, id))
	require.NoError(t, f.reg.Pause(ctx, id), "pause is idempotent")
	st, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, 4, st.ErrorCount)

	rec, _ := f.configs.get(id)
	assert.False(t, rec.Status.Active, "paused status persisted")

	require.NoError(t, f.reg.Resume(ctx, id))
	require.NoError(t, f.reg.Resume(ctx, id))
	st, _ = f.reg.Status(id)
	assert.True(t, st.Active)
	assert.Equal(t, 0, st.ErrorCount)
}

func TestRegistry_ListFilters(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()
	tick := time.Unix(1700000000, 0)
	f.reg.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	_, err := f.reg.Register(ctx, newIdentity("TestBot1", 730))
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, newIdentity("dota-runner", 570))
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, newIdentity("cs-mule", 730))
	require.NoError(t, err)

	all := f.reg.List(domain.BotFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "TestBot1", all[0].Identity.Name)
	assert.Equal(t, "cs-mule", all[2].Identity.Name)

	cs := f.reg.List(domain.BotFilter{GameAppID: 730})
	require.Len(t, cs, 2)
	for _, rec := range cs {
		assert.Equal(t, 730, rec.Identity.GameAppID)
	}

	byName := f.reg.List(domain.BotFilter{Name: "test"})
	require.Len(t, byName, 1)
	assert.Equal(t, "TestBot1", byName[0].Identity.Name)

	byAccount := f.reg.List(domain.BotFilter{AccountName: "ACCT_DOTA"})
	require.Len(t, byAccount, 1)
}

func TestRegistry_WorkerRunsAfterStart(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)
	assert.Empty(t, f.clientsFor(id), "no worker before Start")

	require.NoError(t, f.reg.Start(ctx))
	require.Eventually(t, func() bool {
		cs := f.clientsFor(id)
		if len(cs) != 1 {
			return false
		}
		fetch, _ := cs[0].calls()
		return fetch >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.reg.Shutdown(context.Background()))
}

func TestRegistry_EscalationThroughWorker(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxErrors = 3
	f := newRegistryFixture(t, cfg)
	f.script = func(c *fakeClient) {
		c.fetchOffers = func(context.Context) ([]domain.Offer, error) { return nil, errNetwork }
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("flaky", 730))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := f.reg.Status(id)
		return !st.Active
	}, 2*time.Second, 5*time.Millisecond)

	// Stay paused for a while: no second notification.
	time.Sleep(30 * time.Millisecond)
	st, _ := f.reg.Status(id)
	assert.Equal(t, 3, st.ErrorCount)
	assert.True(t, st.Escalated)
	require.Len(t, f.sink.all(), 1)
	assert.Equal(t, id, f.sink.all()[0].BotID)
}

func TestRegistry_RestartGraceful(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)
	e, _ := f.reg.lookup(id)
	f.reg.stateOf(e).recordFailure(errNetwork, 10, time.Now())

	e.op.Lock()
	oldWorker := e.worker
	e.op.Unlock()
	require.NotNil(t, oldWorker)

	require.NoError(t, f.reg.Restart(ctx, id, false))

	select {
	case <-oldWorker.Done():
	default:
		t.Fatal("old worker still running after restart")
	}
	e.op.Lock()
	newWorker := e.worker
	e.op.Unlock()
	require.NotNil(t, newWorker)
	assert.NotSame(t, oldWorker, newWorker)

	st, _ := f.reg.Status(id)
	assert.True(t, st.Active)
	assert.Equal(t, 0, st.ErrorCount)
	assert.Equal(t, []string{id}, f.callLogs.list())

	require.Eventually(t, func() bool { return len(f.clientsFor(id)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_RestartForceWaitsForInFlightCall(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	blocked := make(chan struct{}, 1)
	var interrupted atomic.Bool
	first := true
	f.script = func(c *fakeClient) {
		if !first {
			return
		}
		first = false
		c.fetchOffers = func(ctx context.Context) ([]domain.Offer, error) {
			select {
			case blocked <- struct{}{}:
			default:
			}
			select {
			case <-ctx.Done():
				interrupted.Store(true)
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return nil, errNetwork
			}
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("slow", 730))
	require.NoError(t, err)
	<-blocked

	restartCtx, stop := context.WithTimeout(ctx, time.Second)
	defer stop()
	require.NoError(t, f.reg.Restart(restartCtx, id, true))

	assert.False(t, interrupted.Load(), "running call saw a cancelled context")
	st, _ := f.reg.Status(id)
	assert.True(t, st.Active)
	assert.Equal(t, 0, st.ErrorCount)
}

func TestRegistry_RestartForceKeepsSubmittedOrder(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	started := make(chan struct{}, 1)
	submitCtxErr := make(chan error, 1)
	first := true
	f.script = func(c *fakeClient) {
		c.inventory = func(context.Context, int) ([]domain.Item, error) {
			return []domain.Item{{AssetID: "A1", AppID: 730}}, nil
		}
		if !first {
			return
		}
		first = false
		c.submit = func(ctx context.Context, _ string, _ []domain.Item, _ string) (string, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(150 * time.Millisecond)
			select {
			case submitCtxErr <- ctx.Err():
			default:
			}
			return "remote-9", nil
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := f.reg.Register(ctx, newIdentity("sender", 730))
	require.NoError(t, err)
	order := pendingOrder("o-1", domain.ItemRef{AssetID: "A1", AppID: 730})
	order.BotID = id
	f.orders.put(order)

	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())
	<-started

	restartCtx, stop := context.WithTimeout(ctx, time.Second)
	defer stop()
	require.NoError(t, f.reg.Restart(restartCtx, id, true))

	require.NoError(t, <-submitCtxErr)
	got := f.orders.get("o-1")
	assert.Equal(t, domain.OrderSent, got.Status)
	assert.Equal(t, "remote-9", got.RemoteOfferID)

	// The replacement worker never offers the same items again.
	time.Sleep(30 * time.Millisecond)
	cs := f.clientsFor(id)
	require.NotEmpty(t, cs)
	for _, c := range cs[1:] {
		c.mu.Lock()
		assert.Empty(t, c.submitted)
		c.mu.Unlock()
	}
}

func TestRegistry_PauseDuringGracefulRestartIsKept(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	blocked := make(chan struct{}, 1)
	first := true
	f.script = func(c *fakeClient) {
		if !first {
			return
		}
		first = false
		c.fetchOffers = func(context.Context) ([]domain.Offer, error) {
			select {
			case blocked <- struct{}{}:
			default:
			}
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)
	<-blocked

	e, _ := f.reg.lookup(id)
	old := f.reg.stateOf(e)
	restarted := make(chan error, 1)
	go func() { restarted <- f.reg.Restart(ctx, id, false) }()
	require.Eventually(t, func() bool { return !old.isActive() }, time.Second, time.Millisecond)

	require.NoError(t, f.reg.Pause(ctx, id))
	require.NoError(t, <-restarted)

	st, _ := f.reg.Status(id)
	assert.False(t, st.Active)
}

func TestRegistry_StartAfterShutdownSpawnsWorkers(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	ctx := context.Background()
	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)

	require.NoError(t, f.reg.Start(ctx))
	require.Eventually(t, func() bool { return len(f.clientsFor(id)) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.reg.Shutdown(ctx))

	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(ctx)
	require.Eventually(t, func() bool { return len(f.clientsFor(id)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_DeleteStoreFailureKeepsBot(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)
	f.configs.failDeletes(errors.New("disk full"))

	require.Error(t, f.reg.Delete(ctx, id))
	rec, err := f.reg.Get(id)
	require.NoError(t, err, "bot is still registered")
	assert.False(t, rec.Status.Active)
	_, ok := f.configs.get(id)
	assert.True(t, ok)

	e, _ := f.reg.lookup(id)
	e.op.Lock()
	w := e.worker
	e.op.Unlock()
	require.NotNil(t, w, "a worker is bound again")

	require.NoError(t, f.reg.Resume(ctx, id))
	st, _ := f.reg.Status(id)
	assert.True(t, st.Active)

	f.configs.failDeletes(nil)
	require.NoError(t, f.reg.Delete(ctx, id))
	assert.Empty(t, f.reg.List(domain.BotFilter{}))
}

func TestRegistry_RestartReloadsIdentity(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()
	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)

	rec, _ := f.configs.get(id)
	rec.Identity.ProxyRef = "http://10.0.0.2:3128"
	require.NoError(t, f.configs.Save(ctx, rec))

	require.NoError(t, f.reg.Restart(ctx, id, false))
	got, err := f.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:3128", got.Identity.ProxyRef)
	assert.Equal(t, id, got.Identity.ID)
}

func TestRegistry_Delete(t *testing.T) {
	f := newRegistryFixture(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	defer f.reg.Shutdown(context.Background())

	id, err := f.reg.Register(ctx, newIdentity("a", 730))
	require.NoError(t, err)
	e, _ := f.reg.lookup(id)
	e.op.Lock()
	w := e.worker
	e.op.Unlock()

	require.NoError(t, f.reg.Delete(ctx, id))
	select {
	case <-w.Done():
	default:
		t.Fatal("worker still running after delete")
	}
	assert.Empty(t, f.reg.List(domain.BotFilter{}))
	_, ok := f.configs.get(id)
	assert.False(t, ok)
	assert.ErrorIs(t, f.reg.Delete(ctx, id), domain.ErrNotFound)
}

func TestRegistry_StartRestoresAndShutdownSaves(t *testing.T) {
	f := newRegistryFixture(t, Config{Interval: time.Hour, IdleInterval: time.Hour})
	paused := newIdentity("paused", 730)
	paused.ID = "bot_1_1600000000"
	f.configs.records[paused.ID] = domain.BotRecord{
		Identity: paused,
		Status:   domain.BotStatus{Active: false, ErrorCount: 10, Escalated: true},
	}
	running := newIdentity("running", 440)
	running.ID = "bot_2_1600000000"
	f.configs.records[running.ID] = domain.BotRecord{Identity: running, Status: domain.BotStatus{Active: true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reg.Start(ctx))
	assert.Error(t, f.reg.Start(ctx), "second start is rejected")

	st, err := f.reg.Status(paused.ID)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.True(t, st.Escalated)

	require.NoError(t, f.reg.Pause(ctx, running.ID))
	require.NoError(t, f.reg.Shutdown(context.Background()))

	rec, ok := f.configs.get(running.ID)
	require.True(t, ok)
	assert.False(t, rec.Status.Active)
}

func TestRegistry_AvailableItemsAndStats(t *testing.T) {
	f := newRegistryFixture(t, Config{})
	ctx := context.Background()
	a, _ := f.reg.Register(ctx, newIdentity("a", 730))
	b, _ := f.reg.Register(ctx, newIdentity("b", 730))

	ea, _ := f.reg.lookup(a)
	ea.state.setInventory(&domain.Inventory{AppID: 730, Items: []domain.Item{{AssetID: "A1", AppID: 730}, {AssetID: "A2", AppID: 730}}})
	eb, _ := f.reg.lookup(b)
	eb.state.setInventory(&domain.Inventory{AppID: 730, Items: []domain.Item{{AssetID: "B1", AppID: 730}}})
	require.NoError(t, f.reg.Pause(ctx, b))

	items := f.reg.AvailableItems()
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, a, it.BotID)
	}

	s := f.reg.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 1, s.Paused)
	assert.Equal(t, 3, s.Items)
}
