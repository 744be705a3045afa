package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/export"
	"github.com/JustVic19/Payouts-sub000/internal/governance/audit"
)

type auditEntryList struct {
	Items []domain.AuditEntry `json:"items"`
	Total int                 `json:"total"`
}

func auditFilter(params ListAuditLogsParams) (audit.Filter, error) {
	since, err := parseTime("since", params.Since)
	if err != nil {
		return audit.Filter{}, err
	}
	until, err := parseTime("until", params.Until)
	if err != nil {
		return audit.Filter{}, err
	}
	return audit.Filter{
		OperationID: params.OperationID,
		Action:      domain.AuditAction(params.Action),
		ActingUser:  params.User,
		Since:       since,
		Until:       until,
		Limit:       params.Limit,
	}, nil
}

// ListAuditLogs handles GET /audit-logs.
func (s *Server) ListAuditLogs(c *gin.Context, params ListAuditLogsParams) {
	ctx, _, ok := requirePermission(c, middleware.PermAuditRead)
	if !ok {
		return
	}

	filter, err := auditFilter(params)
	if err != nil {
		_ = c.Error(err)
		return
	}
	entries, err := s.audit.List(ctx, filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	c.JSON(http.StatusOK, auditEntryList{Items: entries, Total: len(entries)})
}

// ExportAuditLogs handles GET /audit-logs/export. Limit is ignored.
func (s *Server) ExportAuditLogs(c *gin.Context, params ListAuditLogsParams) {
	ctx, _, ok := requirePermission(c, middleware.PermAuditRead)
	if !ok {
		return
	}

	format, err := export.ParseFormat(params.Format)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter, err := auditFilter(params)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter.Limit = 0

	entries, err := s.audit.List(ctx, filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeExport(c, format, "audit-log-"+s.now().UTC().Format("20060102T150405Z"), func(w io.Writer) error {
		return export.WriteAuditEntries(w, format, entries)
	})
}
