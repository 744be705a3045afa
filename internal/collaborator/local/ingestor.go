// Package local provides in-process collaborators. They back the service
// when no external ingestion, validation, execution or impact-analysis URL
// is configured.
package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

// AmountColumn is summed into the monetary impact of an upload.
const AmountColumn = "amount"

// CSVIngestor parses inline CSV content. The first record is the header.
// Spreadsheet formats need the ingestion service.
type CSVIngestor struct {
	MaxFileSizeBytes int64
}

// NewCSVIngestor creates a CSVIngestor.
func NewCSVIngestor(maxFileSizeBytes int64) *CSVIngestor {
	return &CSVIngestor{MaxFileSizeBytes: maxFileSizeBytes}
}

func (i *CSVIngestor) Ingest(ctx context.Context, file collaborator.UploadedFile) (collaborator.IngestResult, error) {
	if ext := file.Extension(); ext != "csv" {
		return collaborator.IngestResult{}, apperrors.ErrUnsupportedFormat(file.FileName, ext).
			WithParams(map[string]interface{}{"file_name": file.FileName, "extension": ext, "detail": "spreadsheet ingestion requires the ingestion service"})
	}
	if i.MaxFileSizeBytes > 0 && int64(len(file.Content)) > i.MaxFileSizeBytes {
		return collaborator.IngestResult{}, apperrors.ErrFileTooLarge(file.FileName, int64(len(file.Content)), i.MaxFileSizeBytes)
	}
	if len(bytes.TrimSpace(file.Content)) == 0 {
		return collaborator.IngestResult{}, apperrors.BadRequest(apperrors.CodeIngestionFailed, "file has no content").
			WithParams(map[string]interface{}{"file_name": file.FileName})
	}

	r := csv.NewReader(bytes.NewReader(file.Content))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return collaborator.IngestResult{}, ingestionFailed(file.FileName, err)
	}
	for n := range header {
		header[n] = strings.ToLower(strings.TrimSpace(header[n]))
	}

	result := collaborator.IngestResult{MonetaryImpact: decimal.Zero}
	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return collaborator.IngestResult{}, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return collaborator.IngestResult{}, ingestionFailed(file.FileName, err)
		}

		fields := make(map[string]string, len(header))
		for n, name := range header {
			if n < len(record) {
				fields[name] = strings.TrimSpace(record[n])
			}
		}
		if amount, err := decimal.NewFromString(fields[AmountColumn]); err == nil {
			result.MonetaryImpact = result.MonetaryImpact.Add(amount.Abs())
		}
		result.Rows = append(result.Rows, domain.Row{Number: number, Fields: fields})
	}
	result.RecordCount = len(result.Rows)
	return result, nil
}

func ingestionFailed(fileName string, err error) *apperrors.AppError {
	return apperrors.Wrap(err, apperrors.CodeIngestionFailed, fmt.Sprintf("could not parse %s", fileName), http.StatusUnprocessableEntity).
		WithParams(map[string]interface{}{"file_name": fileName})
}
