package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
	"github.com/JustVic19/Payouts-sub000/internal/governance/approval"
	"github.com/JustVic19/Payouts-sub000/internal/jobs"
	"github.com/JustVic19/Payouts-sub000/internal/repository"
	"github.com/JustVic19/Payouts-sub000/internal/service"
	"github.com/JustVic19/Payouts-sub000/internal/usecase"
)

// jobTimeoutSlack keeps the River job alive a little past the executor
// timeout so the runner can record the failure itself.
const jobTimeoutSlack = time.Minute

// OperationsModule wires the operation tracker, upload and execution.
type OperationsModule struct {
	infra   *Infrastructure
	tracker *service.OperationTracker
	uploads *usecase.UploadUseCase
	runner  *usecase.ExecutionRunner
	timeout time.Duration
}

// NewOperationsModule creates the operations module.
func NewOperationsModule(infra *Infrastructure) (*OperationsModule, error) {
	if infra == nil || infra.Config == nil {
		return nil, fmt.Errorf("operations module requires infrastructure")
	}
	cfg := infra.Config

	threshold, err := cfg.Operations.Approval.MonetaryThreshold()
	if err != nil {
		return nil, fmt.Errorf("parse approval monetary threshold: %w", err)
	}
	collab, err := newCollaborators(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store service.OperationStore = repository.NewMemoryOperationStore()
		rows  usecase.RowStore       = repository.NewMemoryRowStore()
	)
	if infra.HasDatabase() {
		store = repository.NewPostgresOperationStore(infra.DB.Pool)
		rows = repository.NewPostgresRowStore(infra.DB.Pool)
	}

	tracker := service.NewOperationTracker(
		store,
		infra.Audit,
		approval.NewPolicy(cfg.Operations.Approval.MaxRecords, threshold),
		service.UploadLimits{
			AllowedExtensions: cfg.Operations.AllowedExtensions,
			MaxFileSizeBytes:  cfg.Operations.MaxFileSizeBytes,
		},
	).WithEventPublisher(infra.Dispatcher)

	uploads := usecase.NewUploadUseCase(tracker, collab.Ingestor, collab.Validator, rows).
		WithPools(infra.Pools)

	return &OperationsModule{
		infra:   infra,
		tracker: tracker,
		uploads: uploads,
		runner:  usecase.NewExecutionRunner(tracker, collab.Executor, rows, cfg.Operations.ExecutionTimeout),
		timeout: cfg.Operations.ExecutionTimeout,
	}, nil
}

func (m *OperationsModule) Name() string { return "operations" }

// Tracker exposes the tracker to the modules built on it.
func (m *OperationsModule) Tracker() *service.OperationTracker { return m.tracker }

// ContributeServerDeps must run after the River client is initialized: it
// picks River for executions when one exists and the execution pool otherwise.
func (m *OperationsModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Tracker = m.tracker
	deps.Uploads = m.uploads
	deps.Executions = usecase.NewExecuteUseCase(m.tracker, m.executionQueue())
}

func (m *OperationsModule) executionQueue() usecase.ExecutionQueue {
	if client := m.infra.RiverClient(); client != nil {
		return jobs.NewRiverQueue(client)
	}
	return usecase.NewPoolQueue(m.infra.Pools, m.runner)
}

func (m *OperationsModule) RegisterWorkers(workers *river.Workers) {
	timeout := m.timeout
	if timeout > 0 {
		timeout += jobTimeoutSlack
	}
	river.AddWorker(workers, jobs.NewOperationExecuteWorker(m.runner, timeout))
}

func (m *OperationsModule) Shutdown(context.Context) error { return nil }
