package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/storage"
)

// SnapshotJobConfig holds configuration for the scheduled sweep
type SnapshotJobConfig struct {
	// Interval between sweeps when started with Start (default: 24h)
	Interval time.Duration

	// RatePerSecond caps how many users are reconciled per second (default: 5)
	RatePerSecond float64
}

func DefaultSnapshotJobConfig() SnapshotJobConfig {
	return SnapshotJobConfig{
		Interval:      24 * time.Hour,
		RatePerSecond: 5,
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Month  core.MonthKey
	Users  int
	Failed int
}

// SnapshotJob closes the previous month for every user: it resyncs that
// month and refolds the lifetime figures.
type SnapshotJob struct {
	users   storage.Users
	engine  *reconcile.Engine
	reports Invalidator
	limiter *rate.Limiter
	config  SnapshotJobConfig
	now     func() time.Time
	logger  *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSnapshotJob(users storage.Users, engine *reconcile.Engine, config SnapshotJobConfig) *SnapshotJob {
	defaults := DefaultSnapshotJobConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaults.RatePerSecond
	}
	return &SnapshotJob{
		users:   users,
		engine:  engine,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), 1),
		config:  config,
		now:     time.Now,
		logger:  log.ForComponent(log.ComponentScheduler),
	}
}

// SetReports lets the sweep drop cached projections of users it touched.
func (j *SnapshotJob) SetReports(r Invalidator) {
	j.reports = r
}

// Run sweeps all users once for the month before now. A failing user is
// logged and skipped; only listing users or a cancelled context fail the run.
func (j *SnapshotJob) Run(ctx context.Context, now time.Time) (SweepStats, error) {
	stats := SweepStats{Month: core.MonthKeyOf(now).Prev()}

	ids, err := j.users.ListUserIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("list users: %w", err)
	}

	j.logger.InfoContext(ctx, "Starting snapshot sweep",
		log.FieldMonth, string(stats.Month),
		log.FieldCount, len(ids))

	for _, id := range ids {
		if err := j.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		stats.Users++
		res, err := j.engine.ResyncMonths(ctx, id, stats.Month)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			j.logger.ErrorContext(ctx, "Snapshot sweep failed for user",
				log.FieldUserID, id,
				log.FieldMonth, string(stats.Month),
				log.FieldError, err.Error())
			continue
		}
		if j.reports != nil {
			j.reports.Invalidate(id)
		}
		j.logger.DebugContext(ctx, "User swept",
			log.FieldUserID, id,
			log.FieldSavingsCents, res.Balance.Savings.Cents,
			log.FieldDeficitCents, res.Balance.Deficit.Cents)
	}

	j.logger.InfoContext(ctx, "Snapshot sweep complete",
		log.FieldMonth, string(stats.Month),
		"users", stats.Users,
		"failed", stats.Failed)
	return stats, nil
}

// Start runs a sweep immediately and then every Interval. Returns an error
// if already running.
func (j *SnapshotJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("snapshot job is already running")
	}
	j.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	j.stopCh, j.doneCh = stopCh, doneCh
	j.mu.Unlock()

	go j.runLoop(ctx, stopCh, doneCh)

	j.logger.InfoContext(ctx, "Snapshot job started",
		"interval", j.config.Interval,
		"rate_per_second", j.config.RatePerSecond)
	return nil
}

// Stop signals the loop and waits for the current sweep to end. Only the
// first of several concurrent calls closes the loop; the others return nil
// at once.
func (j *SnapshotJob) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.running = false
	j.stopCh, j.doneCh = nil, nil
	j.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		j.logger.InfoContext(ctx, "Snapshot job stopped gracefully")
	case <-ctx.Done():
		j.logger.WarnContext(ctx, "Snapshot job stop timed out")
		return ctx.Err()
	}
	return nil
}

func (j *SnapshotJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SnapshotJob) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// the sweep stops early when Stop is called
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-sweepCtx.Done():
		}
	}()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.sweep(sweepCtx)

	for {
		select {
		case <-sweepCtx.Done():
			return
		case <-ticker.C:
			j.sweep(sweepCtx)
		}
	}
}

func (j *SnapshotJob) sweep(ctx context.Context) {
	if _, err := j.Run(ctx, j.now()); err != nil && ctx.Err() == nil {
		j.logger.ErrorContext(ctx, "Snapshot sweep aborted", log.FieldError, err.Error())
	}
}
