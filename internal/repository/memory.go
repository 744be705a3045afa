// Package repository provides storage for operations, rollback records and
// audit entries: an in-memory implementation used when no database is
// configured and a PostgreSQL implementation built on pgx.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// MemoryOperationStore keeps operation snapshots in process memory.
type MemoryOperationStore struct {
	mu  sync.RWMutex
	ops map[string]*domain.Operation
}

// NewMemoryOperationStore creates an empty store.
func NewMemoryOperationStore() *MemoryOperationStore {
	return &MemoryOperationStore{ops: make(map[string]*domain.Operation)}
}

func (s *MemoryOperationStore) Create(_ context.Context, op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; ok {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	s.ops[op.ID] = op.Clone()
	return nil
}

func (s *MemoryOperationStore) Update(_ context.Context, op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; !ok {
		return apperrors.ErrOperationNotFound(op.ID)
	}
	s.ops[op.ID] = op.Clone()
	return nil
}

func (s *MemoryOperationStore) Get(_ context.Context, id string) (*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, apperrors.ErrOperationNotFound(id)
	}
	return op.Clone(), nil
}

func (s *MemoryOperationStore) List(_ context.Context, filter service.OperationFilter) ([]*domain.Operation, error) {
	s.mu.RLock()
	out := make([]*domain.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		if filter.Matches(op) {
			out = append(out, op.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MemoryRollbackStore keeps rollback records in process memory.
type MemoryRollbackStore struct {
	mu      sync.RWMutex
	records map[string]*domain.RollbackRecord
}

// NewMemoryRollbackStore creates an empty store.
func NewMemoryRollbackStore() *MemoryRollbackStore {
	return &MemoryRollbackStore{records: make(map[string]*domain.RollbackRecord)}
}

func (s *MemoryRollbackStore) Save(_ context.Context, rec *domain.RollbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.OperationID] = cloneRecord(rec)
	return nil
}

func (s *MemoryRollbackStore) Get(_ context.Context, operationID string) (*domain.RollbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[operationID]
	if !ok {
		return nil, apperrors.ErrRollbackNotFound(operationID)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryRollbackStore) List(_ context.Context, status domain.RollbackStatus) ([]*domain.RollbackRecord, error) {
	s.mu.RLock()
	out := make([]*domain.RollbackRecord, 0, len(s.records))
	for _, rec := range s.records {
		if status == "" || rec.Status == status {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].OperationID > out[j].OperationID
		}
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return out, nil
}

func cloneRecord(rec *domain.RollbackRecord) *domain.RollbackRecord {
	c := *rec
	if rec.LastImpact != nil {
		impact := *rec.LastImpact
		impact.IntegrityChecks = make(map[string]domain.IntegrityStatus, len(rec.LastImpact.IntegrityChecks))
		for k, v := range rec.LastImpact.IntegrityChecks {
			impact.IntegrityChecks[k] = v
		}
		impact.Risks = append([]string(nil), rec.LastImpact.Risks...)
		c.LastImpact = &impact
	}
	if rec.RolledBackAt != nil {
		t := *rec.RolledBackAt
		c.RolledBackAt = &t
	}
	if rec.RollbackStartedAt != nil {
		t := *rec.RollbackStartedAt
		c.RollbackStartedAt = &t
	}
	return &c
}

// MemoryRowStore keeps parsed upload rows in process memory.
type MemoryRowStore struct {
	mu   sync.RWMutex
	rows map[string][]domain.Row
}

// NewMemoryRowStore creates an empty store.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{rows: make(map[string][]domain.Row)}
}

func (s *MemoryRowStore) Put(_ context.Context, operationID string, rows []domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[operationID] = domain.CloneRows(rows)
	return nil
}

// Get returns nil rows for unknown operations.
func (s *MemoryRowStore) Get(_ context.Context, operationID string) ([]domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.rows[operationID]
	if !ok {
		return nil, nil
	}
	return domain.CloneRows(rows), nil
}
