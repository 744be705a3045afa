package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/approval"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/worker"
	"github.com/JustVic19/Payouts-sub000/internal/repository"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

func init() {
	_ = logger.Init("error", "json")
}

func newWiredTracker(r *Recorder) *service.OperationTracker {
	events := domain.NewEventDispatcher()
	events.Register(r.HandleEvent, EventTypes()...)
	auditLog := audit.NewLogger(audit.NewMemorySink()).WithPublisher(events)
	return service.NewOperationTracker(
		repository.NewMemoryOperationStore(),
		auditLog,
		approval.NewPolicy(0, decimal.Zero),
		service.DefaultUploadLimits(),
	).WithEventPublisher(events)
}

func TestRecorder_OperationLifecycle(t *testing.T) {
	r := NewRecorder()
	tracker := newWiredTracker(r)
	ctx := context.Background()
	kind := string(domain.KindQuotaAdjustment)

	op, err := tracker.StartUpload(ctx, domain.KindQuotaAdjustment, []domain.FileMetadata{
		{FileName: "quota.csv", SizeBytes: 100},
		{FileName: "notes.pdf", SizeBytes: 100},
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploadRejections.WithLabelValues("UNSUPPORTED_FORMAT")))

	_, err = tracker.CompleteUpload(ctx, op.ID, service.UploadResult{TotalRecords: 4, MonetaryImpact: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = tracker.RecordValidation(ctx, op.ID, nil)
	require.NoError(t, err)
	_, err = tracker.BeginProcessing(ctx, op.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.processing.WithLabelValues(kind)))

	_, err = tracker.ReportProgress(ctx, op.ID, 4)
	require.NoError(t, err)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.processing.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operationsTotal.WithLabelValues(kind, "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditEntriesTotal.WithLabelValues(string(domain.ActionOperationCompleted))))
	assert.Equal(t, 1, testutil.CollectAndCount(r.executionSeconds))
}

func TestRecorder_FailureOutsideProcessingKeepsGauge(t *testing.T) {
	r := NewRecorder()
	tracker := newWiredTracker(r)
	ctx := context.Background()

	op, err := tracker.StartUpload(ctx, domain.KindCommissionRecalc, []domain.FileMetadata{{FileName: "c.csv", SizeBytes: 1}}, "alice")
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, op.ID, "ingestion failed")
	require.NoError(t, err)

	kind := string(domain.KindCommissionRecalc)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operationsTotal.WithLabelValues(kind, "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.processing.WithLabelValues(kind)))
}

func TestRecorder_RollbackOutcomes(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	events := []*domain.DomainEvent{
		{EventType: domain.EventRollbackCompleted, Rollback: &domain.RollbackRecord{OperationID: "op-1"}},
		{EventType: domain.EventRollbackCompleted, Rollback: &domain.RollbackRecord{OperationID: "op-2", OverrideReason: "ledger reconciled by hand"}},
		{EventType: domain.EventRollbackBlocked, Rollback: &domain.RollbackRecord{OperationID: "op-3"}},
		{EventType: domain.EventRollbackBlocked, Rollback: &domain.RollbackRecord{OperationID: "op-3"}},
		{EventType: domain.EventRollbackExpired, Rollback: &domain.RollbackRecord{OperationID: "op-4"}},
	}
	for _, e := range events {
		require.NoError(t, r.HandleEvent(ctx, e))
	}

	tests := []struct {
		outcome string
		want    float64
	}{
		{OutcomeCompleted, 1},
		{OutcomeOverridden, 1},
		{OutcomeBlocked, 2},
		{OutcomeExpired, 1},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.ToFloat64(r.rollbacksTotal.WithLabelValues(tt.outcome)))
		})
	}
}

func TestRecorder_CompensatingCompletionSkipsGauge(t *testing.T) {
	r := NewRecorder()
	now := time.Now()
	require.NoError(t, r.HandleEvent(context.Background(), &domain.DomainEvent{
		EventType: domain.EventOperationCompleted,
		Operation: &domain.Operation{Kind: domain.KindCompensatingRollback, State: domain.StateCompleted, StartedAt: &now, CompletedAt: &now},
	}))

	kind := string(domain.KindCompensatingRollback)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operationsTotal.WithLabelValues(kind, "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.processing.WithLabelValues(kind)))
}

func TestRecorder_MalformedPayloadIgnored(t *testing.T) {
	r := NewRecorder()
	err := r.HandleEvent(context.Background(), &domain.DomainEvent{
		EventType: domain.EventUploadStarted,
		Payload:   []byte("{not json"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.CollectAndCount(r.uploadRejections))
}

func TestRecorder_HandlerServesPoolGauges(t *testing.T) {
	r := NewRecorder()
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 3, ExecutionPoolSize: 2, ShutdownTimeout: time.Second})
	require.NoError(t, err)
	defer pools.Shutdown()
	r.RegisterPools(pools)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `payouts_worker_pool_capacity{pool="execution"} 2`)
	assert.Contains(t, string(body), `payouts_worker_pool_capacity{pool="general"} 3`)
}
