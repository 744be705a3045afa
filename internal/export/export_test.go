package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JustVic19/Payouts-sub000/internal/domain"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

func sampleEntries() []domain.AuditEntry {
	berlin := time.FixedZone("CEST", 2*60*60)
	return []domain.AuditEntry{
		{
			ID:              "aud-1",
			Seq:             1,
			Timestamp:       time.Date(2026, 4, 2, 11, 30, 0, 123456789, berlin),
			ActingUser:      "bob",
			Action:          domain.ActionOperationCompleted,
			OperationID:     "op-1",
			AffectedRecords: domain.IntPtr(250),
			Status:          domain.AuditSuccess,
			Details:         `tier-reassignment processed 250 of 250 records, "Gold" tier`,
		},
		{
			ID:          "aud-2",
			Seq:         2,
			Timestamp:   time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC),
			ActingUser:  "carol",
			Action:      domain.ActionRollbackBlocked,
			OperationID: "op-1",
			Status:      domain.AuditBlocked,
			Details:     "reason: wrong file\nintegrity errors: payroll",
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"json", FormatJSON, false},
		{"yml", FormatYAML, false},
		{" yaml ", FormatYAML, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.True(t, apperrors.HasCode(err, apperrors.CodeUnsupportedExport))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuditCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuditEntries(&buf, FormatCSV, sampleEntries()))

	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, "timestamp,user,action,operation,affected_records,status,details", firstLine)
	assert.Contains(t, buf.String(), "2026-04-02T09:30:00.123456789Z")

	got, err := ParseAuditCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, want := range sampleEntries() {
		assert.True(t, want.Timestamp.Equal(got[i].Timestamp), "entry %d timestamp", i)
		assert.Equal(t, time.UTC, got[i].Timestamp.Location())
		assert.Equal(t, want.ActingUser, got[i].ActingUser)
		assert.Equal(t, want.Action, got[i].Action)
		assert.Equal(t, want.OperationID, got[i].OperationID)
		assert.Equal(t, want.AffectedRecords, got[i].AffectedRecords)
		assert.Equal(t, want.Status, got[i].Status)
		assert.Equal(t, want.Details, got[i].Details)
		assert.Empty(t, got[i].ID)
	}
}

func TestParseAuditCSV_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"wrong header", "when,user,action,operation,affected_records,status,details\n"},
		{"bad timestamp", "timestamp,user,action,operation,affected_records,status,details\nyesterday,bob,x,op-1,,success,\n"},
		{"bad count", "timestamp,user,action,operation,affected_records,status,details\n2026-04-02T09:30:00Z,bob,x,op-1,many,success,\n"},
		{"short row", "timestamp,user,action,operation,affected_records,status,details\n2026-04-02T09:30:00Z,bob\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAuditCSV(strings.NewReader(tt.in))
			require.Error(t, err)
		})
	}
}

func TestWriteAuditEntries_JSONAndYAML(t *testing.T) {
	var js bytes.Buffer
	require.NoError(t, WriteAuditEntries(&js, FormatJSON, sampleEntries()))
	var decoded []domain.AuditEntry
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "aud-1", decoded[0].ID)
	assert.Nil(t, decoded[1].AffectedRecords)

	var ym bytes.Buffer
	require.NoError(t, WriteAuditEntries(&ym, FormatYAML, sampleEntries()))
	var docs []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "bob", docs[0]["acting_user"])
	assert.Equal(t, "rollback.blocked", docs[1]["action"])
}

func TestWriteAuditEntries_EmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuditEntries(&buf, FormatJSON, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestWriteValidationErrors(t *testing.T) {
	errs := []domain.ValidationError{{
		ID:                 "3:employee_id:0",
		RawValidationError: domain.RawValidationError{Row: 3, Field: "employee_id", Message: "Invalid employee ID format", Suggestion: "EMP-1001"},
		Severity:           domain.SeverityCritical,
		AutoFixable:        true,
		Category:           domain.CategoryIdentity,
	}}

	var csvOut bytes.Buffer
	require.NoError(t, WriteValidationErrors(&csvOut, FormatCSV, errs))
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,row,field,message,severity,category,auto_fixable,suggestion", lines[0])
	assert.Equal(t, "3:employee_id:0,3,employee_id,Invalid employee ID format,critical,Identity,true,EMP-1001", lines[1])

	var ym bytes.Buffer
	require.NoError(t, WriteValidationErrors(&ym, FormatYAML, errs))
	var docs []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, 3, docs[0]["row"])
	assert.Equal(t, "EMP-1001", docs[0]["suggestion"])
}

func TestFormat_ContentType(t *testing.T) {
	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "application/yaml", FormatYAML.ContentType())
	assert.Equal(t, "audit-log.yaml", FormatYAML.FileName("audit-log"))
}
