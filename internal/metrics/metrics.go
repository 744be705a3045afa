// Package metrics exposes Prometheus metrics for bulk operations. The
// Recorder is fed by domain events, so components never call it directly.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/worker"
)

const namespace = "payouts"

// Rollback outcome label values.
const (
	OutcomeCompleted  = "completed"
	OutcomeOverridden = "overridden"
	OutcomeBlocked    = "blocked"
	OutcomeExpired    = "expired"
)

// Recorder owns a registry with the service metrics.
type Recorder struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	uploadRejections  *prometheus.CounterVec
	rollbacksTotal    *prometheus.CounterVec
	auditEntriesTotal *prometheus.CounterVec
	executionSeconds  *prometheus.HistogramVec
	processing        *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations that reached a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		uploadRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_rejections_total",
			Help:      "Uploaded files rejected before ingestion, by reason code.",
		}, []string{"reason"}),
		rollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback attempts and expiries, by outcome.",
		}, []string{"outcome"}),
		auditEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit entries appended, by action.",
		}, []string{"action"}),
		executionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time from processing start to completion.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"kind"}),
		processing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_processing",
			Help:      "Operations currently processing, by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		r.operationsTotal,
		r.uploadRejections,
		r.rollbacksTotal,
		r.auditEntriesTotal,
		r.executionSeconds,
		r.processing,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RegisterPools exports worker pool occupancy as gauges read at scrape time.
func (r *Recorder) RegisterPools(pools *worker.Pools) {
	for _, name := range []worker.PoolName{worker.PoolGeneral, worker.PoolExecution} {
		name := name
		r.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "worker_pool_running",
				Help:        "Workers currently running tasks.",
				ConstLabels: prometheus.Labels{"pool": string(name)},
			}, func() float64 { return float64(pools.Metrics()[name].Running) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "worker_pool_capacity",
				Help:        "Configured worker pool capacity.",
				ConstLabels: prometheus.Labels{"pool": string(name)},
			}, func() float64 { return float64(pools.Metrics()[name].Cap) }),
		)
	}
}

// EventTypes lists the events HandleEvent consumes.
func EventTypes() []domain.EventType {
	return []domain.EventType{
		domain.EventUploadStarted,
		domain.EventProcessingStarted,
		domain.EventOperationCompleted,
		domain.EventOperationFailed,
		domain.EventOperationCancelled,
		domain.EventRollbackCompleted,
		domain.EventRollbackBlocked,
		domain.EventRollbackExpired,
		domain.EventAuditEntryAppended,
	}
}

// HandleEvent is a domain.EventHandler. It never fails; malformed payloads
// are logged and skipped.
func (r *Recorder) HandleEvent(_ context.Context, event *domain.DomainEvent) error {
	switch event.EventType {
	case domain.EventUploadStarted:
		r.recordRejections(event)
	case domain.EventProcessingStarted:
		if op := event.Operation; op != nil {
			r.processing.WithLabelValues(string(op.Kind)).Inc()
		}
	case domain.EventOperationCompleted:
		op := event.Operation
		if op == nil {
			return nil
		}
		r.operationsTotal.WithLabelValues(string(op.Kind), string(domain.StateCompleted)).Inc()
		// Compensating operations are born completed and never processed.
		if op.Kind != domain.KindCompensatingRollback {
			r.processing.WithLabelValues(string(op.Kind)).Dec()
			if op.StartedAt != nil && op.CompletedAt != nil {
				r.executionSeconds.WithLabelValues(string(op.Kind)).Observe(op.CompletedAt.Sub(*op.StartedAt).Seconds())
			}
		}
	case domain.EventOperationFailed:
		op := event.Operation
		if op == nil {
			return nil
		}
		r.operationsTotal.WithLabelValues(string(op.Kind), string(domain.StateError)).Inc()
		if op.StartedAt != nil {
			r.processing.WithLabelValues(string(op.Kind)).Dec()
		}
	case domain.EventOperationCancelled:
		if op := event.Operation; op != nil {
			r.processing.WithLabelValues(string(op.Kind)).Dec()
		}
	case domain.EventRollbackCompleted:
		outcome := OutcomeCompleted
		if event.Rollback != nil && event.Rollback.OverrideReason != "" {
			outcome = OutcomeOverridden
		}
		r.rollbacksTotal.WithLabelValues(outcome).Inc()
	case domain.EventRollbackBlocked:
		r.rollbacksTotal.WithLabelValues(OutcomeBlocked).Inc()
	case domain.EventRollbackExpired:
		r.rollbacksTotal.WithLabelValues(OutcomeExpired).Inc()
	case domain.EventAuditEntryAppended:
		if event.Audit != nil {
			r.auditEntriesTotal.WithLabelValues(string(event.Audit.Action)).Inc()
		}
	}
	return nil
}

func (r *Recorder) recordRejections(event *domain.DomainEvent) {
	if len(event.Payload) == 0 {
		return
	}
	var payload domain.UploadRejectionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logger.Warn("Malformed upload rejection payload", zap.String("event_id", event.EventID), zap.Error(err))
		return
	}
	for _, rej := range payload.Rejected {
		r.uploadRejections.WithLabelValues(rej.Code).Inc()
	}
}
