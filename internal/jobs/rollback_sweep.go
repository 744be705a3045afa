package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// Sweeper marks overdue rollback records expired.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RollbackSweepArgs is a periodic maintenance job that expires rollback
// records whose window has elapsed.
type RollbackSweepArgs struct{}

// Kind returns the job kind identifier for the rollback sweep.
func (RollbackSweepArgs) Kind() string { return "rollback_sweep" }

// InsertOpts ensures at most one sweep is enqueued per minute.
func (RollbackSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// RollbackSweepWorker runs the sweep.
type RollbackSweepWorker struct {
	river.WorkerDefaults[RollbackSweepArgs]
	sweeper Sweeper
}

// NewRollbackSweepWorker creates a sweep worker.
func NewRollbackSweepWorker(sweeper Sweeper) *RollbackSweepWorker {
	return &RollbackSweepWorker{sweeper: sweeper}
}

// Work expires overdue records.
func (w *RollbackSweepWorker) Work(ctx context.Context, _ *river.Job[RollbackSweepArgs]) error {
	if w == nil || w.sweeper == nil {
		return fmt.Errorf("rollback sweep worker is not initialized")
	}
	expired, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep rollback records: %w", err)
	}
	logger.Info("rollback sweep completed", zap.Int("expired_records", expired))
	return nil
}

// PeriodicJobs returns the River periodic jobs for the given sweep schedule.
func PeriodicJobs(schedule cron.Schedule) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return RollbackSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// CronSweeper runs the sweep in-process on a cron schedule. It is used
// when no database, and so no River client, is configured.
type CronSweeper struct {
	sweeper Sweeper
	cron    *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronSweeper creates a stopped CronSweeper.
func NewCronSweeper(sweeper Sweeper, schedule cron.Schedule) *CronSweeper {
	s := &CronSweeper{
		sweeper: sweeper,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.RunOnce))
	return s
}

// Start sweeps once, then on every scheduled tick until Stop.
func (s *CronSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.RunOnce()
	s.cron.Start()
}

// RunOnce performs a single sweep.
func (s *CronSweeper) RunOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	expired, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		logger.Warn("rollback sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		logger.Info("rollback sweep completed", zap.Int("expired_records", expired))
	}
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *CronSweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop rollback sweeper: %w", ctx.Err())
	}
}
