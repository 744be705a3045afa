// Package collaborator defines the external services a bulk operation depends
// on: file ingestion, record validation, execution and rollback impact
// analysis.
//
// Implementations live in subpackages. local runs everything in-process and
// is used when no service URL is configured; httpclient talks to the real
// services over HTTP.
package collaborator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
)

// UploadedFile is one accepted file with its raw content, when the client
// sent it inline.
type UploadedFile struct {
	domain.FileMetadata
	Content []byte
}

// IngestResult is the parsed content of one file.
type IngestResult struct {
	RecordCount    int
	Rows           []domain.Row
	MonetaryImpact decimal.Decimal
}

// FileIngestor parses uploaded files into rows. It may refuse a file with an
// UNSUPPORTED_FORMAT or FILE_TOO_LARGE AppError.
type FileIngestor interface {
	Ingest(ctx context.Context, file UploadedFile) (IngestResult, error)
}

// RecordValidator checks parsed rows. An empty result means the rows are valid.
type RecordValidator interface {
	Validate(ctx context.Context, rows []domain.Row) ([]domain.RawValidationError, error)
}

// ExecutionRequest is what the executor applies.
type ExecutionRequest struct {
	OperationID  string
	Kind         domain.OperationKind
	TotalRecords int
	Rows         []domain.Row
}

// ProgressEvent is one progress report from the executor. Processed is
// cumulative. Committing is true once the irreversible commit step began.
type ProgressEvent struct {
	Processed  int
	Total      int
	Committing bool
}

// ProgressFunc receives progress reports in the order the executor emits them.
type ProgressFunc func(ProgressEvent)

// Executor applies an operation. It returns nil once every record is
// committed. Cancelling ctx before the commit step stops it.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest, progress ProgressFunc) error
}

// ImpactAnalyzer reports what rolling back an operation would affect.
type ImpactAnalyzer interface {
	Analyze(ctx context.Context, operationID string) (domain.ImpactReport, error)
}
