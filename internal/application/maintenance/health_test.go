package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/botfleet/internal/domain"
)

type fakeFleet struct {
	bots      []domain.BotRecord
	resumed   []string
	resumeErr error
}

func (f *fakeFleet) List(domain.BotFilter) []domain.BotRecord { return f.bots }

func (f *fakeFleet) Resume(_ context.Context, id string) error {
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = append(f.resumed, id)
	return nil
}

func bot(id string, active bool, errs int) domain.BotRecord {
	return domain.BotRecord{
		Identity: domain.BotIdentity{ID: id},
		Status:   domain.BotStatus{Active: active, ErrorCount: errs},
	}
}

func TestHealthCheck_WarnsWithoutResuming(t *testing.T) {
	fleet := &fakeFleet{bots: []domain.BotRecord{
		bot("ok", true, 1),
		bot("noisy", true, 5),
		bot("escalated", false, 10),
	}}
	m := NewHealthMonitor(fleet, HealthConfig{}, nil)

	report := m.Check(context.Background())
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, []string{"noisy", "escalated"}, report.Warned)
	assert.Empty(t, report.Resumed)
	assert.Empty(t, fleet.resumed, "the monitor never resumes unless asked to")
}

func TestHealthCheck_AutoResume(t *testing.T) {
	fleet := &fakeFleet{bots: []domain.BotRecord{
		bot("active", true, 0),
		bot("paused", false, 0),
	}}
	m := NewHealthMonitor(fleet, HealthConfig{AutoResume: true}, nil)

	report := m.Check(context.Background())
	assert.Equal(t, []string{"paused"}, report.Resumed)
	assert.Equal(t, []string{"paused"}, fleet.resumed)
}

func TestHealthCheck_AutoResumeFailure(t *testing.T) {
	fleet := &fakeFleet{
		bots:      []domain.BotRecord{bot("gone", false, 0)},
		resumeErr: errors.New("not found"),
	}
	report := NewHealthMonitor(fleet, HealthConfig{AutoResume: true}, nil).Check(context.Background())
	assert.Empty(t, report.Resumed)
}

func TestHealthMonitor_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewHealthMonitor(&fakeFleet{}, HealthConfig{}, nil).Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
