// Package usecase provides application use cases.
//
// Use cases sit between the HTTP handlers (or job workers) and the
// operation tracker: they call the collaborators and feed the results back
// through tracker transitions.
package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/worker"
	"github.com/JustVic19/Payouts-sub000/internal/service"
	"github.com/JustVic19/Payouts-sub000/internal/validation"
)

// Generic failure reasons stored on operations. Collaborator details are
// logged, not exposed.
const (
	ReasonIngestionFailed   = "ingestion failed"
	ReasonValidationFailed  = "validation failed"
	ReasonExecutionFailed   = "execution failed"
	ReasonCommitInterrupted = "commit interrupted"
	ReasonNotScheduled      = "could not be scheduled"
)

// RowStore keeps parsed rows between validation runs and execution.
type RowStore interface {
	Put(ctx context.Context, operationID string, rows []domain.Row) error
	Get(ctx context.Context, operationID string) ([]domain.Row, error)
}

// UploadInput is a new bulk upload.
type UploadInput struct {
	Kind  domain.OperationKind
	Files []collaborator.UploadedFile
	Actor string
}

// UploadUseCase ingests uploaded files and validates their rows.
type UploadUseCase struct {
	tracker   *service.OperationTracker
	ingestor  collaborator.FileIngestor
	validator collaborator.RecordValidator
	rows      RowStore
	pools     *worker.Pools
}

// NewUploadUseCase creates a new UploadUseCase.
func NewUploadUseCase(
	tracker *service.OperationTracker,
	ingestor collaborator.FileIngestor,
	validator collaborator.RecordValidator,
	rows RowStore,
) *UploadUseCase {
	return &UploadUseCase{
		tracker:   tracker,
		ingestor:  ingestor,
		validator: validator,
		rows:      rows,
	}
}

// WithPools runs ingestion in the background on the general pool. Without
// pools Start blocks until validation has been recorded.
func (uc *UploadUseCase) WithPools(pools *worker.Pools) *UploadUseCase {
	uc.pools = pools
	return uc
}

// Start screens the files, opens the operation in uploading and hands the
// accepted files to ingestion.
func (uc *UploadUseCase) Start(ctx context.Context, input UploadInput) (*domain.Operation, error) {
	metas := make([]domain.FileMetadata, len(input.Files))
	for i, f := range input.Files {
		metas[i] = f.FileMetadata
	}

	op, err := uc.tracker.StartUpload(ctx, input.Kind, metas, input.Actor)
	if err != nil {
		return nil, err
	}
	accepted := acceptedFiles(input.Files, op.Files)

	if uc.pools == nil {
		if err := uc.Process(ctx, op.ID, accepted); err != nil {
			return nil, err
		}
		return uc.tracker.Get(ctx, op.ID)
	}

	opID := op.ID
	if err := uc.pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		if err := uc.Process(ctx, opID, accepted); err != nil {
			logger.ForOperation(opID, string(input.Kind)).Warn("Upload processing stopped", zap.Error(err))
		}
	}); err != nil {
		if _, failErr := uc.tracker.Fail(ctx, op.ID, "ingestion "+ReasonNotScheduled); failErr != nil {
			logger.Error("Failed to mark unscheduled upload as failed", zap.String("operation_id", op.ID), zap.Error(failErr))
		}
		return nil, fmt.Errorf("schedule ingestion for %s: %w", op.ID, err)
	}
	return op, nil
}

// acceptedFiles keeps the files the tracker accepted, in upload order.
func acceptedFiles(files []collaborator.UploadedFile, accepted []domain.FileMetadata) []collaborator.UploadedFile {
	want := make(map[string]int, len(accepted))
	for _, m := range accepted {
		want[m.FileName]++
	}
	out := make([]collaborator.UploadedFile, 0, len(accepted))
	for _, f := range files {
		if want[f.FileName] > 0 {
			want[f.FileName]--
			out = append(out, f)
		}
	}
	return out
}

// Process ingests files for an operation in uploading, then validates the
// combined rows. Files the ingestion service refuses are rejected on their
// own; any other ingestion error fails the operation.
func (uc *UploadUseCase) Process(ctx context.Context, operationID string, files []collaborator.UploadedFile) error {
	log := logger.L().With(zap.String("operation_id", operationID))

	var (
		rows       []domain.Row
		total      int
		impact     = decimal.Zero
		rejections []domain.FileRejection
	)
	for _, f := range files {
		res, err := uc.ingestor.Ingest(ctx, f)
		if err != nil {
			if appErr, ok := apperrors.IsAppError(err); ok && isFileRejection(appErr.Code) {
				rejections = append(rejections, domain.FileRejection{FileName: f.FileName, Code: appErr.Code, Message: appErr.Message})
				log.Warn("File rejected by ingestion", zap.String("file_name", f.FileName), zap.String("code", appErr.Code))
				continue
			}
			log.Error("File ingestion failed", zap.String("file_name", f.FileName), zap.Error(err))
			uc.fail(ctx, operationID, ReasonIngestionFailed)
			return fmt.Errorf("ingest %s: %w", f.FileName, err)
		}
		// Row numbers continue across files so they stay unique per operation.
		offset := len(rows)
		for _, r := range res.Rows {
			r.Number += offset
			rows = append(rows, r)
		}
		total += res.RecordCount
		impact = impact.Add(res.MonetaryImpact)
	}

	if len(rejections) == len(files) {
		uc.fail(ctx, operationID, ReasonIngestionFailed)
		return apperrors.BadRequest(apperrors.CodeNoFilesAccepted, "no file in the batch could be ingested")
	}

	if err := uc.rows.Put(ctx, operationID, rows); err != nil {
		uc.fail(ctx, operationID, ReasonIngestionFailed)
		return fmt.Errorf("store rows for %s: %w", operationID, err)
	}
	if _, err := uc.tracker.CompleteUpload(ctx, operationID, service.UploadResult{
		TotalRecords:   total,
		MonetaryImpact: impact,
		Rejections:     rejections,
	}); err != nil {
		return err
	}
	return uc.validate(ctx, operationID, rows)
}

func isFileRejection(code string) bool {
	return code == apperrors.CodeUnsupportedFormat || code == apperrors.CodeFileTooLarge
}

func (uc *UploadUseCase) validate(ctx context.Context, operationID string, rows []domain.Row) error {
	raw, err := uc.validator.Validate(ctx, rows)
	if err != nil {
		logger.Error("Validation collaborator failed", zap.String("operation_id", operationID), zap.Error(err))
		uc.fail(ctx, operationID, ReasonValidationFailed)
		return fmt.Errorf("validate %s: %w", operationID, err)
	}
	_, err = uc.tracker.RecordValidation(ctx, operationID, validation.Build(raw))
	return err
}

func (uc *UploadUseCase) fail(ctx context.Context, operationID, reason string) {
	if _, err := uc.tracker.Fail(ctx, operationID, reason); err != nil {
		logger.Error("Failed to mark operation as failed",
			zap.String("operation_id", operationID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// Revalidate re-runs validation on the stored rows.
func (uc *UploadUseCase) Revalidate(ctx context.Context, operationID string) (*domain.Operation, error) {
	if _, err := uc.tracker.Revalidate(ctx, operationID); err != nil {
		return nil, err
	}
	rows, err := uc.rows.Get(ctx, operationID)
	if err != nil {
		uc.fail(ctx, operationID, ReasonValidationFailed)
		return nil, fmt.Errorf("load rows for %s: %w", operationID, err)
	}
	if err := uc.validate(ctx, operationID, rows); err != nil {
		return nil, err
	}
	return uc.tracker.Get(ctx, operationID)
}

// AutoFix applies the suggestions of the selected auto-fixable errors to the
// stored rows and re-runs validation on them. Rows are patched before the
// errors are dropped from the operation, so a row store failure leaves the
// operation untouched.
func (uc *UploadUseCase) AutoFix(ctx context.Context, operationID string, selectedIDs []string) (*domain.Operation, []domain.ValidationError, error) {
	current, err := uc.tracker.Get(ctx, operationID)
	if err != nil {
		return nil, nil, err
	}
	if current.State == domain.StateValidationErrors {
		if _, pending := validation.ApplyAutoFix(current.ValidationErrors, selectedIDs); len(pending) > 0 {
			rows, err := uc.rows.Get(ctx, operationID)
			if err != nil {
				return nil, nil, fmt.Errorf("load rows for %s: %w", operationID, err)
			}
			if err := uc.rows.Put(ctx, operationID, validation.PatchRows(rows, pending)); err != nil {
				return nil, nil, fmt.Errorf("store fixed rows for %s: %w", operationID, err)
			}
		}
	}

	op, fixed, err := uc.tracker.ApplyAutoFix(ctx, operationID, selectedIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(fixed) == 0 {
		return op, nil, nil
	}
	op, err = uc.Revalidate(ctx, operationID)
	if err != nil {
		return nil, nil, err
	}
	return op, fixed, nil
}
