// Package worker provides the goroutine pools used for upload ingestion and
// in-process operation execution.
//
// Naked goroutines are not used outside tests: background work is submitted
// to a pool with an explicit context.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// PoolName selects a pool for detached submission.
type PoolName string

const (
	// PoolGeneral runs short tasks: file ingestion, validation calls.
	PoolGeneral PoolName = "general"
	// PoolExecution runs long executor streams for operations in processing.
	PoolExecution PoolName = "execution"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name PoolName
}

// Pools is the worker pool collection.
type Pools struct {
	General   *Pool
	Execution *Pool

	// serviceCtx is cancelled on Shutdown; detached tasks run under it.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
	releaseWait   time.Duration
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize   int
	ExecutionPoolSize int
	ShutdownTimeout   time.Duration
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:   50,
		ExecutionPoolSize: 8,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Stats is a point-in-time view of one pool.
type Stats struct {
	Running int `json:"running"`
	Free    int `json:"free"`
	Cap     int `json:"cap"`
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	// Executor streams can run for minutes; keep their workers warm longer.
	execAnts, err := ants.NewPool(cfg.ExecutionPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(time.Minute),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	wait := cfg.ShutdownTimeout
	if wait <= 0 {
		wait = 30 * time.Second
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: PoolGeneral},
		Execution:     &Pool{pool: execAnts, name: PoolExecution},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
		releaseWait:   wait,
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() PoolName { return p.name }

// Submit submits a context-aware task.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// ctx may have been cancelled while queued
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", string(p.name)),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached submits a task that outlives the request that triggered it.
// It runs under the service lifecycle context and stops on Shutdown.
func (p *Pools) SubmitDetached(name PoolName, task Task) error {
	pool := p.General
	if name == PoolExecution {
		pool = p.Execution
	}
	return pool.Submit(p.serviceCtx, task)
}

// Shutdown cancels the service context, then waits for running tasks.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	if err := p.General.pool.ReleaseTimeout(p.releaseWait); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Execution.pool.ReleaseTimeout(p.releaseWait); err != nil {
		logger.Warn("Execution pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool stats keyed by pool name.
func (p *Pools) Metrics() map[PoolName]Stats {
	return map[PoolName]Stats{
		PoolGeneral:   statsOf(p.General.pool),
		PoolExecution: statsOf(p.Execution.pool),
	}
}

func statsOf(pool *ants.Pool) Stats {
	return Stats{Running: pool.Running(), Free: pool.Free(), Cap: pool.Cap()}
}
