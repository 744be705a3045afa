// Package audit implements the append-only audit log shared by every
// operation and rollback.
//
// Entries are never updated or deleted. Appends are serialized through one
// writer so that sequence numbers follow the order in which the triggering
// transitions happened.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	OperationID string
	Action      domain.AuditAction
	ActingUser  string
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// Matches reports whether e passes the filter (Limit is not applied).
func (f Filter) Matches(e domain.AuditEntry) bool {
	if f.OperationID != "" && e.OperationID != f.OperationID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActingUser != "" && e.ActingUser != f.ActingUser {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Sink stores audit entries. It exposes no update or delete.
type Sink interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	// List returns entries in ascending Seq order.
	List(ctx context.Context, filter Filter) ([]domain.AuditEntry, error)
	// LastSeq returns the highest stored Seq, 0 when empty.
	LastSeq(ctx context.Context) (int64, error)
}

// Publisher is notified after an entry is stored.
type Publisher interface {
	Dispatch(ctx context.Context, event *domain.DomainEvent) error
}

// Logger assigns identity and ordering to entries and appends them to a Sink.
type Logger struct {
	sink      Sink
	publisher Publisher
	now       func() time.Time

	mu      sync.Mutex
	seq     int64
	seqInit bool
}

// NewLogger creates a new audit Logger.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// WithClock replaces the time source.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// WithPublisher emits EventAuditEntryAppended after each append.
func (l *Logger) WithPublisher(p Publisher) *Logger {
	l.publisher = p
	return l
}

// Record appends one entry. ID, Seq and Timestamp (when zero) are assigned
// here; the stored entry is returned.
func (l *Logger) Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	l.mu.Lock()
	if !l.seqInit {
		last, err := l.sink.LastSeq(ctx)
		if err != nil {
			l.mu.Unlock()
			return domain.AuditEntry{}, fmt.Errorf("load audit sequence: %w", err)
		}
		l.seq = last
		l.seqInit = true
	}

	entry.ID = domain.NewID("audit")
	entry.Seq = l.seq + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Status == "" {
		entry.Status = domain.AuditSuccess
	}

	if err := l.sink.Append(ctx, entry); err != nil {
		l.mu.Unlock()
		logger.Error("Failed to write audit log",
			zap.String("action", string(entry.Action)),
			zap.String("operation_id", entry.OperationID),
			zap.Error(err),
		)
		return domain.AuditEntry{}, fmt.Errorf("write audit log: %w", err)
	}
	l.seq = entry.Seq
	l.mu.Unlock()

	if l.publisher != nil {
		stored := entry
		_ = l.publisher.Dispatch(ctx, &domain.DomainEvent{
			EventID:     domain.NewID("evt"),
			EventType:   domain.EventAuditEntryAppended,
			AggregateID: entry.ID,
			Actor:       entry.ActingUser,
			CreatedAt:   entry.Timestamp,
			Audit:       &stored,
		})
	}
	return entry, nil
}

// List returns stored entries in append order.
func (l *Logger) List(ctx context.Context, filter Filter) ([]domain.AuditEntry, error) {
	entries, err := l.sink.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}
