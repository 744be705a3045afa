package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestOperationExecuteArgs(t *testing.T) {
	t.Parallel()

	args := OperationExecuteArgs{OperationID: "op-1"}
	assert.Equal(t, "operation_execute", args.Kind())

	opts := args.InsertOpts()
	assert.Equal(t, QueueOperations, opts.Queue)
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.True(t, opts.UniqueOpts.ByArgs)
	assert.True(t, opts.UniqueOpts.ByQueue)
	assert.Zero(t, opts.UniqueOpts.ByPeriod)
}

func TestRollbackSweepArgs(t *testing.T) {
	t.Parallel()

	opts := (RollbackSweepArgs{}).InsertOpts()
	assert.Equal(t, "rollback_sweep", (RollbackSweepArgs{}).Kind())
	assert.Equal(t, river.QueueDefault, opts.Queue)
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.Equal(t, time.Minute, opts.UniqueOpts.ByPeriod)
}

type stubRunner struct {
	err   error
	calls []string
}

func (r *stubRunner) Run(_ context.Context, id string) error {
	r.calls = append(r.calls, id)
	return r.err
}

func executeJob(id string) *river.Job[OperationExecuteArgs] {
	return &river.Job[OperationExecuteArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Attempt: 1},
		Args:   OperationExecuteArgs{OperationID: id},
	}
}

func TestOperationExecuteWorker_Work(t *testing.T) {
	t.Parallel()

	execFailure := apperrors.Wrap(errors.New("ledger locked"), apperrors.CodeExecutionFailure, "operation execution failed", 502)
	storeDown := errors.New("connection refused")

	notFound := apperrors.ErrOperationNotFound("op-1")

	tests := []struct {
		name       string
		runErr     error
		wantCancel bool
	}{
		{name: "success", runErr: nil},
		{name: "execution failure is cancelled", runErr: execFailure, wantCancel: true},
		{name: "unknown operation is cancelled", runErr: notFound, wantCancel: true},
		{name: "transient error is retried", runErr: storeDown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &stubRunner{err: tt.runErr}
			w := NewOperationExecuteWorker(runner, time.Hour)

			err := w.Work(context.Background(), executeJob("op-1"))
			assert.Equal(t, []string{"op-1"}, runner.calls)
			if tt.runErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.runErr)
			assert.Equal(t, tt.wantCancel, cancellable(tt.runErr))
		})
	}
}

func TestOperationExecuteWorker_Timeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 31*time.Minute, NewOperationExecuteWorker(&stubRunner{}, 31*time.Minute).Timeout(nil))
	assert.Equal(t, time.Duration(-1), NewOperationExecuteWorker(&stubRunner{}, 0).Timeout(nil))
}

func TestOperationExecuteWorker_Uninitialized(t *testing.T) {
	t.Parallel()

	err := (&OperationExecuteWorker{}).Work(context.Background(), executeJob("op-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

type fakeInserter struct {
	args      []river.JobArgs
	err       error
	duplicate bool
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args))}, UniqueSkippedAsDuplicate: f.duplicate}, nil
}

func TestRiverQueue_Enqueue(t *testing.T) {
	t.Parallel()

	ins := &fakeInserter{}
	q := NewRiverQueue(ins)
	require.NoError(t, q.Enqueue(context.Background(), "op-9"))
	require.Len(t, ins.args, 1)
	assert.Equal(t, OperationExecuteArgs{OperationID: "op-9"}, ins.args[0])

	ins.duplicate = true
	require.NoError(t, q.Enqueue(context.Background(), "op-9"))
}

func TestRiverQueue_EnqueueError(t *testing.T) {
	t.Parallel()

	q := NewRiverQueue(&fakeInserter{err: errors.New("pool closed")})
	err := q.Enqueue(context.Background(), "op-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op-9")
	assert.Contains(t, err.Error(), "pool closed")
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(context.Context) (int, error) {
	s.calls.Add(1)
	return 2, s.err
}

func TestRollbackSweepWorker_Work(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	require.NoError(t, NewRollbackSweepWorker(sweeper).Work(context.Background(), nil))
	assert.Equal(t, int32(1), sweeper.calls.Load())

	failing := &countingSweeper{err: errors.New("store down")}
	err := NewRollbackSweepWorker(failing).Work(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")

	err = (&RollbackSweepWorker{}).Work(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

// everySchedule fires at a fixed sub-second interval.
type everySchedule time.Duration

func (s everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(s)) }

func TestPeriodicJobs(t *testing.T) {
	t.Parallel()

	jobs := PeriodicJobs(everySchedule(time.Minute))
	require.Len(t, jobs, 1)
	assert.NotNil(t, jobs[0])
}

func TestCronSweeper_RunsOnStartAndSchedule(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	s := NewCronSweeper(sweeper, everySchedule(20*time.Millisecond))

	s.Start(context.Background())
	assert.GreaterOrEqual(t, sweeper.calls.Load(), int32(1))

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

type blockingSweeper struct {
	once    sync.Once
	started chan struct{}
}

func (s *blockingSweeper) SweepExpired(ctx context.Context) (int, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCronSweeper_StopCancelsRunningSweep(t *testing.T) {
	t.Parallel()

	sweeper := &blockingSweeper{started: make(chan struct{})}
	s := NewCronSweeper(sweeper, everySchedule(10*time.Millisecond))
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	s.cron.Start()

	select {
	case <-sweeper.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
