// Package maintenance holds the periodic jobs that run beside the fleet:
// health checks and backups of the bot configuration store.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

// Fleet is the part of the registry the health monitor needs.
type Fleet interface {
	List(filter domain.BotFilter) []domain.BotRecord
	Resume(ctx context.Context, botID string) error
}

// HealthConfig controls the health monitor.
type HealthConfig struct {
	Interval   time.Duration // default 15m
	WarnErrors int           // warn at this many consecutive errors; default 5
	AutoResume bool          // resume paused bots on every check; off by default
}

// HealthReport is the outcome of one check.
type HealthReport struct {
	Checked int
	Warned  []string
	Resumed []string
}

// HealthMonitor logs bots that are accumulating errors and, when enabled,
// resumes paused ones. Resuming lives here and never in the worker.
type HealthMonitor struct {
	fleet Fleet
	cfg   HealthConfig
	log   *slog.Logger
}

// NewHealthMonitor applies defaults to cfg.
func NewHealthMonitor(fleet Fleet, cfg HealthConfig, log *slog.Logger) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.WarnErrors <= 0 {
		cfg.WarnErrors = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &HealthMonitor{fleet: fleet, cfg: cfg, log: log}
}

// Run checks on every tick until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check inspects every bot once.
func (m *HealthMonitor) Check(ctx context.Context) HealthReport {
	var report HealthReport
	for _, rec := range m.fleet.List(domain.BotFilter{}) {
		report.Checked++
		id := rec.Identity.ID

		if rec.Status.ErrorCount >= m.cfg.WarnErrors {
			report.Warned = append(report.Warned, id)
			m.log.Warn("health: bot accumulating errors",
				"bot_id", id,
				"error_count", rec.Status.ErrorCount,
				"last_error", rec.Status.LastError,
			)
		}

		if m.cfg.AutoResume && !rec.Status.Active {
			if err := m.fleet.Resume(ctx, id); err != nil {
				m.log.Error("health: auto resume failed", "bot_id", id, "err", err)
				continue
			}
			report.Resumed = append(report.Resumed, id)
			m.log.Info("health: bot resumed", "bot_id", id)
		}
	}
	return report
}
