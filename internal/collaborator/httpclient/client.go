// Package httpclient talks to the ingestion, validation, execution and
// impact-analysis services over HTTP.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	RetryCount   int
	PollInterval time.Duration
}

// Client is a JSON client for one collaborator service.
type Client struct {
	baseURL      string
	http         *resty.Client
	pollInterval time.Duration
}

// New creates a Client. Requests are retried on 429 and 5xx responses.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
	}
	c.http = resty.New().
		SetHeader("User-Agent", "payouts-bulk-ops").
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return err != nil
			}
			return r.StatusCode() == http.StatusTooManyRequests || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if opts.Token != "" {
		c.http.SetAuthToken(opts.Token)
	}
	return c
}

func (c *Client) buildURL(endpoint string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(endpoint, "/"))
}

// remoteError is the error body the services return.
type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if re, ok := resp.Error().(*remoteError); ok && re.Message != "" {
		msg = re.Message
	}
	return fmt.Errorf("%s: %s returned %d: %s", what, resp.Request.URL, resp.StatusCode(), msg)
}

// Ingestor implements collaborator.FileIngestor.
type Ingestor struct{ *Client }

type ingestRequest struct {
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type,omitempty"`
	Content   []byte `json:"content,omitempty"`
}

type ingestResponse struct {
	RecordCount    int          `json:"record_count"`
	Rows           []domain.Row `json:"rows"`
	MonetaryImpact string       `json:"monetary_impact"`
}

func (i Ingestor) Ingest(ctx context.Context, file collaborator.UploadedFile) (collaborator.IngestResult, error) {
	var out ingestResponse
	resp, err := i.http.R().
		SetContext(ctx).
		SetBody(ingestRequest{
			FileName:  file.FileName,
			SizeBytes: file.SizeBytes,
			MimeType:  file.MimeType,
			Content:   file.Content,
		}).
		SetResult(&out).
		SetError(&remoteError{}).
		Post(i.buildURL("v1/ingestions"))
	if err == nil {
		switch resp.StatusCode() {
		case http.StatusRequestEntityTooLarge:
			return collaborator.IngestResult{}, apperrors.ErrFileTooLarge(file.FileName, file.SizeBytes, 0)
		case http.StatusUnsupportedMediaType:
			return collaborator.IngestResult{}, apperrors.ErrUnsupportedFormat(file.FileName, file.Extension())
		}
	}
	if err := i.check(resp, err, "ingest "+file.FileName); err != nil {
		return collaborator.IngestResult{}, apperrors.Wrap(err, apperrors.CodeIngestionFailed, "file ingestion failed", http.StatusBadGateway).
			WithParams(map[string]interface{}{"file_name": file.FileName})
	}

	impact := decimal.Zero
	if out.MonetaryImpact != "" {
		impact, err = decimal.NewFromString(out.MonetaryImpact)
		if err != nil {
			return collaborator.IngestResult{}, fmt.Errorf("ingest %s: parse monetary impact: %w", file.FileName, err)
		}
	}
	count := out.RecordCount
	if count == 0 {
		count = len(out.Rows)
	}
	return collaborator.IngestResult{RecordCount: count, Rows: out.Rows, MonetaryImpact: impact}, nil
}

// Validator implements collaborator.RecordValidator.
type Validator struct{ *Client }

type validateResponse struct {
	Errors []domain.RawValidationError `json:"errors"`
}

func (v Validator) Validate(ctx context.Context, rows []domain.Row) ([]domain.RawValidationError, error) {
	var out validateResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"rows": rows}).
		SetResult(&out).
		SetError(&remoteError{}).
		Post(v.buildURL("v1/validations"))
	if err := v.check(resp, err, "validate rows"); err != nil {
		return nil, err
	}
	return out.Errors, nil
}

// ImpactAnalyzer implements collaborator.ImpactAnalyzer.
type ImpactAnalyzer struct{ *Client }

type impactResponse struct {
	AffectedEmployees int                               `json:"affected_employees"`
	PayoutReversion   string                            `json:"payout_reversion"`
	IntegrityChecks   map[string]domain.IntegrityStatus `json:"integrity_checks"`
	Risks             []string                          `json:"risks"`
}

func (a ImpactAnalyzer) Analyze(ctx context.Context, operationID string) (domain.ImpactReport, error) {
	var out impactResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", operationID).
		SetResult(&out).
		SetError(&remoteError{}).
		Get(a.buildURL("v1/impact/{id}"))
	if err := a.check(resp, err, "analyze impact of "+operationID); err != nil {
		return domain.ImpactReport{}, err
	}

	reversion := decimal.Zero
	if out.PayoutReversion != "" {
		reversion, err = decimal.NewFromString(out.PayoutReversion)
		if err != nil {
			return domain.ImpactReport{}, fmt.Errorf("analyze impact of %s: parse payout reversion: %w", operationID, err)
		}
	}
	return domain.ImpactReport{
		AffectedEmployees: out.AffectedEmployees,
		PayoutReversion:   reversion,
		IntegrityChecks:   out.IntegrityChecks,
		Risks:             out.Risks,
	}, nil
}

// Executor implements collaborator.Executor. It starts a remote execution
// and polls it until it finishes.
type Executor struct{ *Client }

// Remote execution statuses.
const (
	ExecutionRunning    = "running"
	ExecutionCommitting = "committing"
	ExecutionSucceeded  = "succeeded"
	ExecutionFailed     = "failed"
)

type executionStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

func (e Executor) Execute(ctx context.Context, req collaborator.ExecutionRequest, progress collaborator.ProgressFunc) error {
	if progress == nil {
		progress = func(collaborator.ProgressEvent) {}
	}

	var started executionStatus
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"operation_id":  req.OperationID,
			"kind":          req.Kind,
			"total_records": req.TotalRecords,
			"rows":          req.Rows,
		}).
		SetResult(&started).
		SetError(&remoteError{}).
		Post(e.buildURL("v1/executions"))
	if err := e.check(resp, err, "start execution of "+req.OperationID); err != nil {
		return err
	}

	log := logger.ForOperation(req.OperationID, string(req.Kind))
	log.Info("Remote execution started", zap.String("execution_id", started.ID))

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	committing := false
	for {
		select {
		case <-ctx.Done():
			if !committing {
				e.abort(started.ID, log)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		var status executionStatus
		resp, err := e.http.R().
			SetContext(ctx).
			SetPathParam("id", started.ID).
			SetResult(&status).
			SetError(&remoteError{}).
			Get(e.buildURL("v1/executions/{id}"))
		if err := e.check(resp, err, "poll execution "+started.ID); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}

		if status.Status == ExecutionCommitting || status.Status == ExecutionSucceeded {
			committing = true
		}
		total := status.Total
		if total == 0 {
			total = req.TotalRecords
		}
		progress(collaborator.ProgressEvent{Processed: status.Processed, Total: total, Committing: committing})

		switch status.Status {
		case ExecutionSucceeded:
			return nil
		case ExecutionFailed:
			return fmt.Errorf("execution %s failed: %s", started.ID, status.Error)
		}
	}
}

// abort asks the service to stop an execution. It runs on its own context
// because the caller's is already cancelled.
func (e Executor) abort(executionID string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := e.http.R().
		SetContext(ctx).
		SetPathParam("id", executionID).
		Delete(e.buildURL("v1/executions/{id}"))
	if err := e.check(resp, err, "abort execution "+executionID); err != nil {
		log.Warn("Failed to abort remote execution", zap.Error(err))
	}
}
