package rollback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
	"github.com/JustVic19/Payouts-sub000/internal/governance/rollback"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/repository"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

func init() {
	_ = logger.Init("error", "json")
}

type stubAnalyzer struct {
	mu     sync.Mutex
	report domain.ImpactReport
	err    error
	calls  int
}

func (a *stubAnalyzer) Analyze(context.Context, string) (domain.ImpactReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.report, a.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	window   *rollback.Window
	tracker  *service.OperationTracker
	audit    *audit.Logger
	analyzer *stubAnalyzer
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryRollbackStore())
}

func newFixtureWithStore(t *testing.T, records rollback.RecordStore) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	auditLog := audit.NewLogger(audit.NewMemorySink()).WithClock(c.Now)
	tracker := service.NewOperationTracker(repository.NewMemoryOperationStore(), auditLog, nil, service.DefaultUploadLimits()).
		WithClock(c.Now)
	analyzer := &stubAnalyzer{report: domain.ImpactReport{
		AffectedEmployees: 12,
		PayoutReversion:   decimal.RequireFromString("4200.00"),
		IntegrityChecks: map[string]domain.IntegrityStatus{
			"payroll": domain.IntegrityOK,
			"ledger":  domain.IntegrityOK,
		},
	}}
	window := rollback.NewWindow(records, tracker, analyzer, auditLog, 24*time.Hour).
		WithClock(c.Now)
	return &fixture{window: window, tracker: tracker, audit: auditLog, analyzer: analyzer, clock: c}
}

// completed runs an operation to completion and opens its rollback window.
func (f *fixture) completed(t *testing.T) *domain.Operation {
	t.Helper()
	ctx := context.Background()
	op, err := f.tracker.StartUpload(ctx, domain.KindTierReassignment, []domain.FileMetadata{{FileName: "t.csv"}}, "alice")
	require.NoError(t, err)
	_, err = f.tracker.CompleteUpload(ctx, op.ID, service.UploadResult{TotalRecords: 12})
	require.NoError(t, err)
	_, err = f.tracker.RecordValidation(ctx, op.ID, nil)
	require.NoError(t, err)
	_, err = f.tracker.BeginProcessing(ctx, op.ID, "alice")
	require.NoError(t, err)
	op, err = f.tracker.ReportProgress(ctx, op.ID, 12)
	require.NoError(t, err)

	_, err = f.window.Track(ctx, op)
	require.NoError(t, err)
	return op
}

func (f *fixture) rollbackEntries(t *testing.T, operationID string) []domain.AuditEntry {
	t.Helper()
	all, err := f.audit.List(context.Background(), audit.Filter{OperationID: operationID})
	require.NoError(t, err)
	var out []domain.AuditEntry
	for _, e := range all {
		if e.Action != domain.ActionOperationCompleted {
			out = append(out, e)
		}
	}
	return out
}

func TestTrack_OpensWindow(t *testing.T) {
	f := newFixture(t)
	op := f.completed(t)

	v, err := f.window.Get(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)
	assert.Equal(t, *op.CompletedAt, v.ExecutedAt)
	assert.Equal(t, (24 * time.Hour).Milliseconds(), v.WindowDurationMs)
	assert.Equal(t, (24 * time.Hour).Milliseconds(), v.RemainingTimeMs)

	again, err := f.window.Track(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, v.ExecutedAt, again.ExecutedAt)
}

func TestTrack_RejectsUnfinishedAndSkipsCompensating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.window.Track(ctx, &domain.Operation{ID: "op-x", Kind: domain.KindQuotaAdjustment, State: domain.StateProcessing})
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	v, err := f.window.Track(ctx, &domain.Operation{ID: "op-c", Kind: domain.KindCompensatingRollback, State: domain.StateCompleted})
	require.NoError(t, err)
	assert.Nil(t, v)
	_, err = f.window.Get(ctx, "op-c")
	require.True(t, apperrors.HasCode(err, apperrors.CodeRollbackNotFound))
}

func TestExpiredRecordRefusesRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	f.clock.now = f.clock.now.Add(25 * time.Hour)

	v, err := f.window.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackExpired, v.Status)
	assert.Zero(t, v.RemainingTimeMs)

	_, err = f.window.RequestRollback(ctx, op.ID, "wrong tier table", "dana")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	assert.Zero(t, f.analyzer.calls)

	entries := f.rollbackEntries(t, op.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRollbackExpired, entries[0].Action)
}

func TestRequestRollback_MissingReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := f.window.RequestRollback(ctx, op.ID, reason, "dana")
		require.True(t, apperrors.HasCode(err, apperrors.CodeMissingReason))
	}

	v, err := f.window.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)
	assert.Empty(t, f.rollbackEntries(t, op.ID))
	assert.Zero(t, f.analyzer.calls)
}

func TestRequestRollback_Completes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	f.analyzer.report.IntegrityChecks["commissions"] = domain.IntegrityWarning
	res, err := f.window.RequestRollback(ctx, op.ID, "wrong tier table", "dana")
	require.NoError(t, err)

	assert.Equal(t, domain.RollbackCompleted, res.Record.Status)
	assert.Equal(t, "wrong tier table", res.Record.Reason)
	assert.Equal(t, []string{"commissions"}, res.Warnings)
	require.NotNil(t, res.Compensating)
	assert.Equal(t, op.ID, res.Compensating.Compensates)
	assert.Equal(t, res.Compensating.ID, res.Record.CompensatingOperation)

	source, err := f.tracker.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op, source)

	entries := f.rollbackEntries(t, op.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRollbackCompleted, entries[0].Action)
	assert.Contains(t, entries[0].Details, "reason: wrong tier table")
	assert.Contains(t, entries[0].Details, "integrity warnings: commissions")

	_, err = f.window.RequestRollback(ctx, op.ID, "again", "dana")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestRequestRollback_BlockedByIntegrityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	f.analyzer.report.IntegrityChecks["ledger"] = domain.IntegrityError
	_, err := f.window.RequestRollback(ctx, op.ID, "duplicate run", "dana")
	require.True(t, apperrors.HasCode(err, apperrors.CodeIntegrityCheckBlocked))

	v, err := f.window.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)
	require.NotNil(t, v.LastImpact)

	entries := f.rollbackEntries(t, op.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRollbackBlocked, entries[0].Action)
	assert.Equal(t, domain.AuditBlocked, entries[0].Status)

	ops, err := f.tracker.List(ctx, service.OperationFilter{Kind: domain.KindCompensatingRollback})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOverride_ProceedsAndAuditsBothReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	f.analyzer.report.IntegrityChecks["ledger"] = domain.IntegrityError

	_, err := f.window.Override(ctx, op.ID, "duplicate run", " ", "dana")
	require.True(t, apperrors.HasCode(err, apperrors.CodeMissingReason))

	res, err := f.window.Override(ctx, op.ID, "duplicate run", "ledger team confirmed manual fix", "dana")
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackCompleted, res.Record.Status)
	assert.Equal(t, "ledger team confirmed manual fix", res.Record.OverrideReason)

	entries := f.rollbackEntries(t, op.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionRollbackOverridden, entries[0].Action)
	assert.Equal(t, domain.ActionRollbackCompleted, entries[1].Action)
	for _, e := range entries {
		assert.Contains(t, e.Details, "reason: duplicate run")
		assert.Contains(t, e.Details, "override: ledger team confirmed manual fix")
	}
}

func TestRequestRollback_AnalysisFailureReverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.completed(t)

	f.analyzer.err = errors.New("upstream timeout")
	_, err := f.window.RequestRollback(ctx, op.ID, "wrong tier", "dana")
	require.True(t, apperrors.HasCode(err, apperrors.CodeImpactAnalysisFailed))

	v, err := f.window.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)

	entries := f.rollbackEntries(t, op.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRollbackAnalysisError, entries[0].Action)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.completed(t)
	f.clock.now = f.clock.now.Add(20 * time.Hour)
	fresh := f.completed(t)
	f.clock.now = f.clock.now.Add(5 * time.Hour)

	n, err := f.window.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.window.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	expired, err := f.window.List(ctx, domain.RollbackExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].OperationID)

	available, err := f.window.List(ctx, domain.RollbackAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, fresh.ID, available[0].OperationID)
	assert.Equal(t, (19 * time.Hour).Milliseconds(), available[0].RemainingTimeMs)
}

func TestHandleOperationCompleted_TracksFromEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events := domain.NewEventDispatcher()
	events.Register(f.window.HandleOperationCompleted, domain.EventOperationCompleted)
	f.tracker.WithEventPublisher(events)

	op, err := f.tracker.StartUpload(ctx, domain.KindCommissionRecalc, []domain.FileMetadata{{FileName: "c.xlsx"}}, "alice")
	require.NoError(t, err)
	_, err = f.tracker.CompleteUpload(ctx, op.ID, service.UploadResult{TotalRecords: 1})
	require.NoError(t, err)
	_, err = f.tracker.RecordValidation(ctx, op.ID, nil)
	require.NoError(t, err)
	_, err = f.tracker.BeginProcessing(ctx, op.ID, "alice")
	require.NoError(t, err)
	_, err = f.tracker.ReportProgress(ctx, op.ID, 1)
	require.NoError(t, err)

	v, err := f.window.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)

	res, err := f.window.RequestRollback(ctx, op.ID, "test batch", "dana")
	require.NoError(t, err)
	_, err = f.window.Get(ctx, res.Compensating.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodeRollbackNotFound))
}

// contextStore fails writes on a cancelled context, like a database driver.
type contextStore struct {
	*repository.MemoryRollbackStore
	failCompleted bool
}

func (s *contextStore) Save(ctx context.Context, rec *domain.RollbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failCompleted && rec.Status == domain.RollbackCompleted {
		return errors.New("connection reset")
	}
	return s.MemoryRollbackStore.Save(ctx, rec)
}

// cancellingAnalyzer cancels the request while analysis runs.
type cancellingAnalyzer struct {
	cancel context.CancelFunc
	report domain.ImpactReport
	err    error
}

func (a *cancellingAnalyzer) Analyze(context.Context, string) (domain.ImpactReport, error) {
	a.cancel()
	return a.report, a.err
}

func TestRequestRollback_CancelledRequestLeavesRecordAvailable(t *testing.T) {
	tests := []struct {
		name   string
		report domain.ImpactReport
		err    error
		code   string
	}{
		{
			name: "analysis failure",
			err:  errors.New("analysis service timed out"),
			code: apperrors.CodeImpactAnalysisFailed,
		},
		{
			name: "blocked by integrity error",
			report: domain.ImpactReport{IntegrityChecks: map[string]domain.IntegrityStatus{
				"payroll": domain.IntegrityError,
			}},
			code: apperrors.CodeIntegrityCheckBlocked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &contextStore{MemoryRollbackStore: repository.NewMemoryRollbackStore()}
			f := newFixtureWithStore(t, store)
			op := f.completed(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			window := rollback.NewWindow(store, f.tracker, &cancellingAnalyzer{cancel: cancel, report: tt.report, err: tt.err}, f.audit, 24*time.Hour).
				WithClock(f.clock.Now)

			_, err := window.RequestRollback(ctx, op.ID, "wrong quarter", "bob")
			require.True(t, apperrors.HasCode(err, tt.code), "got %v", err)

			v, err := window.Get(context.Background(), op.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.RollbackAvailable, v.Status)
			assert.Nil(t, v.RollbackStartedAt)

			// A retry on a live request is accepted.
			_, err = f.window.RequestRollback(context.Background(), op.ID, "wrong quarter", "bob")
			require.NoError(t, err)
		})
	}
}

func TestRequestRollback_FailedCompletionWriteReverts(t *testing.T) {
	store := &contextStore{MemoryRollbackStore: repository.NewMemoryRollbackStore(), failCompleted: true}
	f := newFixtureWithStore(t, store)
	op := f.completed(t)

	_, err := f.window.RequestRollback(context.Background(), op.ID, "wrong quarter", "bob")
	require.Error(t, err)

	v, err := f.window.Get(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)
	assert.Empty(t, v.CompensatingOperation)
}

func TestSweepExpired_ReclaimsInterruptedRollbacks(t *testing.T) {
	store := repository.NewMemoryRollbackStore()
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	abandoned := f.completed(t)
	recent := f.completed(t)

	markRollingBack := func(operationID string, startedAt time.Time) {
		rec, err := store.Get(ctx, operationID)
		require.NoError(t, err)
		rec.Status = domain.RollbackRollingBack
		rec.RollbackStartedAt = &startedAt
		require.NoError(t, store.Save(ctx, rec))
	}
	markRollingBack(abandoned.ID, f.clock.now.Add(-time.Hour))
	markRollingBack(recent.ID, f.clock.now.Add(-time.Minute))

	expired, err := f.window.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	v, err := f.window.Get(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackAvailable, v.Status)
	assert.Nil(t, v.RollbackStartedAt)

	v, err = f.window.Get(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackRollingBack, v.Status)
}
