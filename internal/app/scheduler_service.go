package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/ledger"
	"github.com/dokzlo13/insteond/internal/metrics"
	"github.com/dokzlo13/insteond/internal/refresh"
	"github.com/dokzlo13/insteond/internal/rules"
	"github.com/dokzlo13/insteond/internal/scheduler"
	"github.com/dokzlo13/insteond/internal/workpool"
)

// SchedulerService wraps the trigger scheduler, the daily refresh loop and
// related periodic tasks.
type SchedulerService struct {
	cfg *config.Config

	Pool      *workpool.Pool
	Timer     *scheduler.AfterFuncTimer
	Scheduler *scheduler.Scheduler
	Loop      *refresh.Loop

	ledger  *ledger.Ledger
	started bool
	done    chan struct{}
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(
	cfg *config.Config,
	tz *time.Location,
	rs []rules.Rule,
	solar refresh.SolarProvider,
	sender scheduler.Sender,
	l *ledger.Ledger,
	m *metrics.Recorder,
) *SchedulerService {
	pool := workpool.NewWithConfig(cfg.Scheduler.GetWorkers(), cfg.Scheduler.GetQueueSize())
	timer := scheduler.NewAfterFuncTimer(pool)

	sched := scheduler.New(timer, sender, scheduler.Options{
		StaggerStep: cfg.Scheduler.StaggerStep.Duration(),
		Location:    tz,
		Recorder:    m,
	})

	loop := refresh.New(rs, solar, sched, refresh.Options{
		Location:      tz,
		Ledger:        l,
		Metrics:       m,
		PrintSchedule: cfg.Log.PrintSchedule,
		RetryDelay:    cfg.Scheduler.RefreshRetry.Duration(),
		RetryAttempts: cfg.Scheduler.GetRefreshAttempts(),
	})

	return &SchedulerService{
		cfg:       cfg,
		Pool:      pool,
		Timer:     timer,
		Scheduler: sched,
		Loop:      loop,
		ledger:    l,
		done:      make(chan struct{}),
	}
}

// Start begins the refresh loop and related periodic tasks.
func (s *SchedulerService) Start(ctx context.Context) {
	s.started = true
	go func() {
		defer close(s.done)
		if err := s.Loop.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh loop error")
		}
	}()

	// Ledger cleanup (if ledger is enabled)
	if s.ledger != nil {
		go s.runLedgerCleanup(ctx)
	}
}

// Stop waits for the refresh loop, cancels every armed trigger and drains
// the worker pool. ctx must already be cancelled for the loop to return.
func (s *SchedulerService) Stop(ctx context.Context) {
	if s.started {
		select {
		case <-s.done:
		case <-ctx.Done():
			log.Warn().Msg("Refresh loop did not stop in time")
		}
	}

	s.Scheduler.Close()
	s.Timer.Close()
	s.Pool.Close(ctx)
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.RetentionPeriod.Duration()
	interval := s.cfg.Ledger.RetentionInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
