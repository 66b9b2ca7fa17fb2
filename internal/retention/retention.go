package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/pkg/schema"
)

// DefaultMaxAge is how long an unfinished working session may sit idle
// before the pruner discards it.
const DefaultMaxAge = 24 * time.Hour

// DefaultSchedule runs the pruner hourly.
const DefaultSchedule = "0 * * * *"

// Pruner discards stale working sessions on a cron schedule. Completed
// sessions are history and are never pruned; only sessions still marked
// processing past the age cutoff go.
type Pruner struct {
	store    store.Store
	hub      streaming.EventHub
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPruner creates a Pruner. spec is a standard 5-field cron expression.
func NewPruner(s store.Store, hub streaming.EventHub, spec string, maxAge time.Duration, logger *slog.Logger) (*Pruner, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", spec, err)
	}
	return &Pruner{
		store:    s,
		hub:      hub,
		schedule: schedule,
		maxAge:   maxAge,
		logger:   logger,
	}, nil
}

// Start launches the background loop. Each wakeup is timed against the
// cron schedule's next firing.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("pruner already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(runCtx)
	p.logger.Info("retention pruner started", "max_age", p.maxAge.String())
	return nil
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	for {
		next := p.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes one pruning pass.
func (p *Pruner) RunOnce(ctx context.Context) {
	pruned, err := p.store.PruneStaleSessions(ctx, p.maxAge)
	if err != nil {
		p.logger.Error("prune stale sessions", "error", err)
		return
	}
	if pruned == 0 {
		return
	}
	p.logger.Info("pruned stale sessions", "count", pruned)
	_ = p.hub.Publish(ctx, streaming.StreamEvent{EventType: schema.EventHistoryChanged})
}

// Stop shuts the loop down and waits for it to exit.
func (p *Pruner) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
	p.logger.Info("retention pruner stopped")
	return nil
}

// NextRun reports when the schedule fires next; used by the health
// endpoint.
func (p *Pruner) NextRun(from time.Time) time.Time {
	return p.schedule.Next(from)
}
