package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/rollback"
	"github.com/JustVic19/Payouts-sub000/internal/jobs"
	"github.com/JustVic19/Payouts-sub000/internal/repository"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// RollbackModule owns the rollback window and its expiry sweep.
type RollbackModule struct {
	infra    *Infrastructure
	window   *rollback.Window
	schedule cron.Schedule
	sweeper  *jobs.CronSweeper
}

// NewRollbackModule creates the rollback module on top of the operation
// tracker and subscribes it to completed operations.
func NewRollbackModule(infra *Infrastructure, tracker *service.OperationTracker) (*RollbackModule, error) {
	if infra == nil || infra.Config == nil || tracker == nil {
		return nil, fmt.Errorf("rollback module requires infrastructure and tracker")
	}
	cfg := infra.Config

	schedule, err := cfg.Rollback.ParsedSweepSchedule()
	if err != nil {
		return nil, fmt.Errorf("parse rollback sweep schedule: %w", err)
	}

	var records rollback.RecordStore = repository.NewMemoryRollbackStore()
	if infra.HasDatabase() {
		records = repository.NewPostgresRollbackStore(infra.DB.Pool)
	}

	window := rollback.NewWindow(
		records,
		tracker,
		newImpactAnalyzer(cfg, tracker),
		infra.Audit,
		cfg.Rollback.Window,
	).WithEventPublisher(infra.Dispatcher)

	infra.Dispatcher.Register(window.HandleOperationCompleted, domain.EventOperationCompleted)

	return &RollbackModule{
		infra:    infra,
		window:   window,
		schedule: schedule,
	}, nil
}

func (m *RollbackModule) Name() string { return "rollback" }

// Window exposes the rollback window.
func (m *RollbackModule) Window() *rollback.Window { return m.window }

func (m *RollbackModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Rollbacks = m.window
}

func (m *RollbackModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewRollbackSweepWorker(m.window))
}

// PeriodicJobs schedules the sweep on River when a database is present.
func (m *RollbackModule) PeriodicJobs() []*river.PeriodicJob {
	if !m.infra.HasDatabase() {
		return nil
	}
	return jobs.PeriodicJobs(m.schedule)
}

// Start runs the in-process sweeper when River is not available.
func (m *RollbackModule) Start(ctx context.Context) error {
	if m.infra.RiverClient() != nil {
		return nil
	}
	m.sweeper = jobs.NewCronSweeper(m.window, m.schedule)
	m.sweeper.Start(ctx)
	return nil
}

func (m *RollbackModule) Shutdown(ctx context.Context) error {
	if m.sweeper == nil {
		return nil
	}
	return m.sweeper.Stop(ctx)
}
