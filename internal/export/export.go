// Package export renders audit entries and validation errors as CSV, JSON
// or YAML downloads.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// AuditCSVHeader is the column order of audit CSV exports.
var AuditCSVHeader = []string{"timestamp", "user", "action", "operation", "affected_records", "status", "details"}

var validationCSVHeader = []string{"id", "row", "field", "message", "severity", "category", "auto_fixable", "suggestion"}

// ParseFormat accepts csv, json, yaml and yml. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", apperrors.BadRequest(apperrors.CodeUnsupportedExport, "unsupported export format").
		WithParams(map[string]interface{}{"format": s, "supported": "csv, json, yaml"})
}

// ContentType returns the response media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns base with the extension for f.
func (f Format) FileName(base string) string {
	return base + "." + string(f)
}

// WriteAuditEntries writes entries to w in the given format.
func WriteAuditEntries(w io.Writer, f Format, entries []domain.AuditEntry) error {
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, entries)
	case FormatYAML:
		return writeYAML(w, entries)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(AuditCSVHeader); err != nil {
		return fmt.Errorf("write audit header: %w", err)
	}
	for _, e := range entries {
		affected := ""
		if e.AffectedRecords != nil {
			affected = strconv.Itoa(*e.AffectedRecords)
		}
		if err := cw.Write([]string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.ActingUser,
			string(e.Action),
			e.OperationID,
			affected,
			string(e.Status),
			e.Details,
		}); err != nil {
			return fmt.Errorf("write audit entry %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush audit csv: %w", err)
	}
	return nil
}

// ParseAuditCSV reads an audit CSV export back into entries. IDs and
// sequence numbers are not part of the export and stay empty.
func ParseAuditCSV(r io.Reader) ([]domain.AuditEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(AuditCSVHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read audit header: %w", err)
	}
	for i, col := range AuditCSVHeader {
		if header[i] != col {
			return nil, fmt.Errorf("audit csv column %d: got %q, want %q", i+1, header[i], col)
		}
	}

	var out []domain.AuditEntry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read audit line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("audit line %d: timestamp: %w", line, err)
		}
		entry := domain.AuditEntry{
			Timestamp:   ts.UTC(),
			ActingUser:  rec[1],
			Action:      domain.AuditAction(rec[2]),
			OperationID: rec[3],
			Status:      domain.AuditStatus(rec[5]),
			Details:     rec[6],
		}
		if rec[4] != "" {
			n, err := strconv.Atoi(rec[4])
			if err != nil {
				return nil, fmt.Errorf("audit line %d: affected_records: %w", line, err)
			}
			entry.AffectedRecords = &n
		}
		out = append(out, entry)
	}
}

// WriteValidationErrors writes errs to w in the given format.
func WriteValidationErrors(w io.Writer, f Format, errs []domain.ValidationError) error {
	if errs == nil {
		errs = []domain.ValidationError{}
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, errs)
	case FormatYAML:
		return writeYAML(w, validationDocs(errs))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(validationCSVHeader); err != nil {
		return fmt.Errorf("write validation header: %w", err)
	}
	for _, e := range errs {
		if err := cw.Write([]string{
			e.ID,
			strconv.Itoa(e.Row),
			e.Field,
			e.Message,
			string(e.Severity),
			string(e.Category),
			strconv.FormatBool(e.AutoFixable),
			e.Suggestion,
		}); err != nil {
			return fmt.Errorf("write validation error %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush validation csv: %w", err)
	}
	return nil
}

// validationDoc flattens the embedded raw error for YAML, which does not
// inline anonymous structs without a tag.
type validationDoc struct {
	ID          string `yaml:"id"`
	Row         int    `yaml:"row"`
	Field       string `yaml:"field"`
	Message     string `yaml:"message"`
	Suggestion  string `yaml:"suggestion,omitempty"`
	Severity    string `yaml:"severity"`
	Category    string `yaml:"category"`
	AutoFixable bool   `yaml:"auto_fixable"`
}

func validationDocs(errs []domain.ValidationError) []validationDoc {
	out := make([]validationDoc, len(errs))
	for i, e := range errs {
		out[i] = validationDoc{
			ID:          e.ID,
			Row:         e.Row,
			Field:       e.Field,
			Message:     e.Message,
			Suggestion:  e.Suggestion,
			Severity:    string(e.Severity),
			Category:    string(e.Category),
			AutoFixable: e.AutoFixable,
		}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml export: %w", err)
	}
	return enc.Close()
}
