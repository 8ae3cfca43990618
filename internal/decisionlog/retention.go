package decisionlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically prunes audit data older than a fixed age.
type Retention struct {
	cron    *cron.Cron
	maxAge  time.Duration
	targets []Pruner
	logger  *slog.Logger
	now     func() time.Time
}

// NewRetention creates a retention job that runs on the standard cron
// expression schedule and prunes entries older than days from targets.
func NewRetention(schedule string, days int, logger *slog.Logger, targets ...Pruner) (*Retention, error) {
	if days <= 0 {
		return nil, fmt.Errorf("decisionlog: retention days must be positive, got %d", days)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("decisionlog: invalid retention schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Retention{
		cron:    cron.New(),
		maxAge:  time.Duration(days) * 24 * time.Hour,
		targets: targets,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.logger.Warn("retention sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("decisionlog: schedule retention: %w", err)
	}
	return r, nil
}

// Start begins the schedule in its own goroutine.
func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("retention started", "max_age", r.maxAge)
}

// Stop stops the schedule and waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce prunes every target now and returns the total removed.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	var (
		total int64
		errs  []error
	)
	for _, t := range r.targets {
		n, err := t.Prune(ctx, cutoff)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("retention sweep", "cutoff", cutoff.UTC(), "removed", total)
	return total, errors.Join(errs...)
}
