package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/JustVic19/Payouts-sub000/internal/config"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
	"github.com/JustVic19/Payouts-sub000/internal/infrastructure"
	"github.com/JustVic19/Payouts-sub000/internal/metrics"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/worker"
	"github.com/JustVic19/Payouts-sub000/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil when no database is configured; stores are then in memory
	// and executions run on the worker pools instead of River.
	DB         *infrastructure.DatabaseClients
	Pools      *worker.Pools
	Dispatcher *domain.EventDispatcher
	Audit      *audit.Logger
	Metrics    *metrics.Recorder
}

// NewInfrastructure initializes DB/pools and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	var db *infrastructure.DatabaseClients
	if cfg.Database.Enabled() {
		var err error
		db, err = infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
	} else {
		logger.Warn("No database configured; operations, rollback records and audit entries are kept in memory")
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		ExecutionPoolSize: cfg.Worker.ExecutionPoolSize,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	dispatcher := domain.NewEventDispatcher()

	recorder := metrics.NewRecorder()
	recorder.RegisterPools(pools)
	dispatcher.Register(recorder.HandleEvent, metrics.EventTypes()...)

	var sink audit.Sink = audit.NewMemorySink()
	if db != nil {
		sink = repository.NewPostgresAuditSink(db.Pool)
	}

	return &Infrastructure{
		Config:     cfg,
		DB:         db,
		Pools:      pools,
		Dispatcher: dispatcher,
		Audit:      audit.NewLogger(sink).WithPublisher(dispatcher),
		Metrics:    recorder,
	}, nil
}

// HasDatabase reports whether PostgreSQL backs the stores.
func (i *Infrastructure) HasDatabase() bool {
	return i != nil && i.DB != nil
}

// RiverClient returns the River client, nil before InitRiver or without a database.
func (i *Infrastructure) RiverClient() *river.Client[pgx.Tx] {
	if !i.HasDatabase() {
		return nil
	}
	return i.DB.RiverClient
}

// InitRiver initializes the River client on top of a prepared worker
// registry. Without a database it does nothing.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if !i.HasDatabase() {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River, periodic); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
