package fleet

import "time"

const (
	defaultInterval              = 30 * time.Second
	defaultIdleInterval          = 60 * time.Second
	defaultCooldown              = 5 * time.Minute
	defaultMaxErrors             = 10
	defaultInventoryRefreshEvery = 10
	defaultInventoryMaxAge       = 10 * time.Minute
	defaultNotifyTimeout         = 5 * time.Second
)

// Config tunes every worker spawned by a Registry.
type Config struct {
	Interval     time.Duration // wait between cycles while active
	IdleInterval time.Duration // wait between checks while paused
	Cooldown     time.Duration // wait after an aborted cycle or a recovered panic

	MaxErrors int // consecutive failing cycles before escalation

	InventoryRefreshEvery int           // executed cycles between forced inventory refreshes
	InventoryMaxAge       time.Duration // pending orders refresh an older snapshot first

	NotifyTimeout time.Duration // bound on a single escalation append
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultIdleInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = defaultMaxErrors
	}
	if c.InventoryRefreshEvery <= 0 {
		c.InventoryRefreshEvery = defaultInventoryRefreshEvery
	}
	if c.InventoryMaxAge <= 0 {
		c.InventoryMaxAge = defaultInventoryMaxAge
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = defaultNotifyTimeout
	}
	return c
}
