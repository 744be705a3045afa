package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	processingSlotIndex   = "bulk_operations_processing_per_kind"
	operationColumns      = "snapshot"
	rollbackRecordColumns = "snapshot, window_ms"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate creates the service tables if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("Bulk operation schema applied")
	return nil
}

// PostgresOperationStore stores operation snapshots as JSONB. The processing
// slot per kind is also enforced by a partial unique index.
type PostgresOperationStore struct {
	db DBTX
}

// NewPostgresOperationStore creates a new PostgresOperationStore.
func NewPostgresOperationStore(db DBTX) *PostgresOperationStore {
	return &PostgresOperationStore{db: db}
}

func (s *PostgresOperationStore) Create(ctx context.Context, op *domain.Operation) error {
	snapshot, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO bulk_operations (id, kind, state, created_at, updated_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.ID, string(op.Kind), string(op.State), op.CreatedAt, op.UpdatedAt, snapshot,
	)
	if err != nil {
		return s.mapWriteError(ctx, op, err)
	}
	return nil
}

func (s *PostgresOperationStore) Update(ctx context.Context, op *domain.Operation) error {
	snapshot, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE bulk_operations
		SET state = $2, updated_at = $3, snapshot = $4
		WHERE id = $1`,
		op.ID, string(op.State), op.UpdatedAt, snapshot,
	)
	if err != nil {
		return s.mapWriteError(ctx, op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrOperationNotFound(op.ID)
	}
	return nil
}

// mapWriteError turns a processing-slot index violation into
// OPERATION_SLOT_BUSY naming the operation that holds the slot.
func (s *PostgresOperationStore) mapWriteError(ctx context.Context, op *domain.Operation, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation || pgErr.ConstraintName != processingSlotIndex {
		return fmt.Errorf("write operation %s: %w", op.ID, err)
	}
	var activeID string
	if qerr := s.db.QueryRow(ctx,
		`SELECT id FROM bulk_operations WHERE kind = $1 AND state = 'processing'`, string(op.Kind),
	).Scan(&activeID); qerr != nil {
		logger.Warn("Could not resolve processing slot holder", zap.String("kind", string(op.Kind)), zap.Error(qerr))
	}
	return apperrors.ErrOperationSlotBusy(string(op.Kind), activeID)
}

func (s *PostgresOperationStore) Get(ctx context.Context, id string) (*domain.Operation, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT `+operationColumns+` FROM bulk_operations WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrOperationNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return decodeOperation(raw)
}

func (s *PostgresOperationStore) List(ctx context.Context, filter service.OperationFilter) ([]*domain.Operation, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + operationColumns + ` FROM bulk_operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	out := make([]*domain.Operation, 0, len(raws))
	for _, raw := range raws {
		op, err := decodeOperation(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

func decodeOperation(raw []byte) (*domain.Operation, error) {
	var op domain.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("decode operation snapshot: %w", err)
	}
	return &op, nil
}

// PostgresRollbackStore stores rollback records as JSONB. The window length
// is kept in its own column because the record does not serialise it.
type PostgresRollbackStore struct {
	db DBTX
}

// NewPostgresRollbackStore creates a new PostgresRollbackStore.
func NewPostgresRollbackStore(db DBTX) *PostgresRollbackStore {
	return &PostgresRollbackStore{db: db}
}

func (s *PostgresRollbackStore) Save(ctx context.Context, rec *domain.RollbackRecord) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode rollback record %s: %w", rec.OperationID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rollback_records (operation_id, status, executed_at, window_ms, snapshot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operation_id) DO UPDATE
		SET status = EXCLUDED.status, window_ms = EXCLUDED.window_ms, snapshot = EXCLUDED.snapshot`,
		rec.OperationID, string(rec.Status), rec.ExecutedAt, rec.Window.Milliseconds(), snapshot,
	)
	if err != nil {
		return fmt.Errorf("save rollback record %s: %w", rec.OperationID, err)
	}
	return nil
}

func (s *PostgresRollbackStore) Get(ctx context.Context, operationID string) (*domain.RollbackRecord, error) {
	rec, err := scanRollbackRecord(s.db.QueryRow(ctx,
		`SELECT `+rollbackRecordColumns+` FROM rollback_records WHERE operation_id = $1`, operationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRollbackNotFound(operationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get rollback record %s: %w", operationID, err)
	}
	return rec, nil
}

func (s *PostgresRollbackStore) List(ctx context.Context, status domain.RollbackStatus) ([]*domain.RollbackRecord, error) {
	query := `SELECT ` + rollbackRecordColumns + ` FROM rollback_records`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY executed_at DESC, operation_id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rollback records: %w", err)
	}
	defer rows.Close()

	var out []*domain.RollbackRecord
	for rows.Next() {
		rec, err := scanRollbackRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list rollback records: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rollback records: %w", err)
	}
	return out, nil
}

func scanRollbackRecord(row pgx.Row) (*domain.RollbackRecord, error) {
	var (
		raw      []byte
		windowMs int64
	)
	if err := row.Scan(&raw, &windowMs); err != nil {
		return nil, err
	}
	var rec domain.RollbackRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode rollback record: %w", err)
	}
	rec.Window = time.Duration(windowMs) * time.Millisecond
	return &rec, nil
}

// PostgresAuditSink is an append-only audit.Sink.
type PostgresAuditSink struct {
	db DBTX
}

// NewPostgresAuditSink creates a new PostgresAuditSink.
func NewPostgresAuditSink(db DBTX) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

func (s *PostgresAuditSink) Append(ctx context.Context, e domain.AuditEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_entries (seq, id, ts, acting_user, action, operation_id, affected_records, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Seq, e.ID, e.Timestamp, e.ActingUser, string(e.Action), e.OperationID, e.AffectedRecords, string(e.Status), e.Details,
	)
	if err != nil {
		return fmt.Errorf("append audit entry %d: %w", e.Seq, err)
	}
	return nil
}

func (s *PostgresAuditSink) List(ctx context.Context, filter audit.Filter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OperationID != "" {
		add("operation_id = $%d", filter.OperationID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.ActingUser != "" {
		add("acting_user = $%d", filter.ActingUser)
	}
	if filter.Since != nil {
		add("ts >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("ts <= $%d", *filter.Until)
	}

	query := `SELECT seq, id, ts, acting_user, action, operation_id, affected_records, status, details FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e              domain.AuditEntry
			action, status string
			affected       *int32
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Timestamp, &e.ActingUser, &action, &e.OperationID, &affected, &status, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		e.Status = domain.AuditStatus(status)
		e.Timestamp = e.Timestamp.UTC()
		if affected != nil {
			e.AffectedRecords = domain.IntPtr(int(*affected))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}

func (s *PostgresAuditSink) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("load last audit seq: %w", err)
	}
	return seq, nil
}

// PostgresRowStore keeps parsed upload rows as one JSONB document per
// operation.
type PostgresRowStore struct {
	db DBTX
}

// NewPostgresRowStore creates a new PostgresRowStore.
func NewPostgresRowStore(db DBTX) *PostgresRowStore {
	return &PostgresRowStore{db: db}
}

func (s *PostgresRowStore) Put(ctx context.Context, operationID string, rows []domain.Row) error {
	if rows == nil {
		rows = []domain.Row{}
	}
	doc, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows of %s: %w", operationID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO operation_rows (operation_id, rows, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (operation_id) DO UPDATE SET rows = EXCLUDED.rows, updated_at = now()`,
		operationID, doc,
	)
	if err != nil {
		return fmt.Errorf("store rows of %s: %w", operationID, err)
	}
	return nil
}

// Get returns nil rows for unknown operations.
func (s *PostgresRowStore) Get(ctx context.Context, operationID string) ([]domain.Row, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT rows FROM operation_rows WHERE operation_id = $1`, operationID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rows of %s: %w", operationID, err)
	}
	var rows []domain.Row
	if err := json.Unmarshal(doc, &rows); err != nil {
		return nil, fmt.Errorf("decode rows of %s: %w", operationID, err)
	}
	return rows, nil
}
