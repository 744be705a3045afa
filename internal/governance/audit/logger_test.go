package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

type failingSink struct{ MemorySink }

func (s *failingSink) Append(context.Context, domain.AuditEntry) error {
	return errors.New("disk full")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.DomainEvent
}

func (p *recordingPublisher) Dispatch(_ context.Context, e *domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestLogger_RecordAssignsIdentity(t *testing.T) {
	fixed := time.Date(2026, 4, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	l := NewLogger(NewMemorySink()).WithClock(func() time.Time { return fixed })

	entry, err := l.Record(context.Background(), domain.AuditEntry{
		ActingUser:      "alice",
		Action:          domain.ActionOperationCompleted,
		OperationID:     "op-1",
		AffectedRecords: domain.IntPtr(100),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(entry.ID, "audit-"))
	require.Equal(t, int64(1), entry.Seq)
	require.Equal(t, fixed.UTC(), entry.Timestamp)
	require.Equal(t, time.UTC, entry.Timestamp.Location())
	require.Equal(t, domain.AuditSuccess, entry.Status)
}

func TestLogger_SequenceFollowsAppendOrder(t *testing.T) {
	sink := NewMemorySink()
	l := NewLogger(sink)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() { //nolint:naked-goroutine // concurrent append test
			defer wg.Done()
			_, err := l.Record(ctx, domain.AuditEntry{Action: domain.ActionOperationFailed})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 50)
	for i, e := range entries {
		require.Equal(t, int64(i+1), e.Seq)
	}
}

func TestLogger_ResumesSequenceFromSink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	require.NoError(t, sink.Append(ctx, domain.AuditEntry{ID: "audit-old", Seq: 41}))

	entry, err := NewLogger(sink).Record(ctx, domain.AuditEntry{Action: domain.ActionRollbackExpired})
	require.NoError(t, err)
	require.Equal(t, int64(42), entry.Seq)
}

func TestLogger_AppendFailure(t *testing.T) {
	l := NewLogger(&failingSink{})
	_, err := l.Record(context.Background(), domain.AuditEntry{Action: domain.ActionOperationCompleted})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}

func TestLogger_PublishesAppendedEntries(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewLogger(NewMemorySink()).WithPublisher(pub)

	_, err := l.Record(context.Background(), domain.AuditEntry{
		ActingUser:      "bob",
		Action:          domain.ActionRollbackCompleted,
		OperationID:     "op-9",
		AffectedRecords: domain.IntPtr(3),
		Details:         "reason: wrong tier",
	})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	require.Equal(t, domain.EventAuditEntryAppended, pub.events[0].EventType)
	require.NotNil(t, pub.events[0].Audit)
	require.Equal(t, domain.ActionRollbackCompleted, pub.events[0].Audit.Action)
	require.Equal(t, 3, *pub.events[0].Audit.AffectedRecords)
}

func TestFilter_Matches(t *testing.T) {
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	entry := domain.AuditEntry{OperationID: "op-1", Action: domain.ActionOperationFailed, ActingUser: "alice", Timestamp: base}
	before, after := base.Add(-time.Minute), base.Add(time.Minute)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"operation match", Filter{OperationID: "op-1"}, true},
		{"operation mismatch", Filter{OperationID: "op-2"}, false},
		{"action mismatch", Filter{Action: domain.ActionOperationCompleted}, false},
		{"user match", Filter{ActingUser: "alice"}, true},
		{"since before", Filter{Since: &before}, true},
		{"since after", Filter{Since: &after}, false},
		{"until before", Filter{Until: &before}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(entry))
		})
	}
}

func TestMemorySink_ListLimit(t *testing.T) {
	sink := NewMemorySink()
	l := NewLogger(sink)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.Record(ctx, domain.AuditEntry{Action: domain.ActionOperationCompleted})
		require.NoError(t, err)
	}

	got, err := sink.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].Seq)
}
