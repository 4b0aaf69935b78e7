package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quotekit/quotekit/internal/engine"
	"github.com/quotekit/quotekit/internal/store"
	"github.com/quotekit/quotekit/pkg/schema"
)

// Janitor sweeps active runs whose ledger has been idle longer than the
// TTL and marks them abandoned. Abandonment is terminal; reports and the
// answer ledger are retained for audit.
type Janitor struct {
	store    store.Store
	ttl      time.Duration
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a Janitor sweeping on the given cron expression
// (standard five-field syntax) with the given idle TTL.
func NewJanitor(s store.Store, cronExpr string, ttl time.Duration, logger *slog.Logger) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse janitor cron expression %q: %w", cronExpr, err)
	}
	return &Janitor{
		store:    s,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start launches the background sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(sweepCtx)
	j.logger.Info("janitor started", slog.Duration("ttl", j.ttl))
	return nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep abandons every active run idle past the TTL and returns how many
// runs it abandoned. Exposed for manual sweeps and tests.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	active := schema.RunStatusActive
	cutoff := time.Now().UTC().Add(-j.ttl)
	runs, err := j.store.ListRuns(ctx, store.RunFilter{Status: &active, IdleSince: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("list idle runs: %w", err)
	}

	abandoned := 0
	for _, run := range runs {
		if err := engine.Transition(run.ID, run.Status, schema.RunStatusAbandoned); err != nil {
			j.logger.Warn("skipping run in unexpected state",
				slog.String("run_id", run.ID),
				slog.String("status", string(run.Status)))
			continue
		}
		status := schema.RunStatusAbandoned
		if err := j.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status}); err != nil {
			j.logger.Error("failed to abandon run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
			continue
		}
		abandoned++
	}

	if abandoned > 0 {
		j.logger.Info("abandoned idle runs", slog.Int("count", abandoned))
	}
	return abandoned, nil
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return nil
	}

	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil

	j.logger.Info("janitor stopped")
	return nil
}
