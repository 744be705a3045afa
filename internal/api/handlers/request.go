package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/export"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

func invalidQuery(err error) *apperrors.AppError {
	return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "invalid query parameters").
		WithParams(map[string]interface{}{"detail": err.Error()})
}

// bindJSON decodes the request body into req. An empty body leaves req
// untouched when optional is true.
func bindJSON(c *gin.Context, req interface{}, optional bool) bool {
	if optional && (c.Request.Body == nil || c.Request.ContentLength == 0) {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		appErr := apperrors.BadRequest(apperrors.CodeInvalidRequestField, "invalid request body").
			WithParams(map[string]interface{}{"detail": err.Error()})
		_ = c.Error(appErr)
		return false
	}
	return true
}

// parseTime parses an optional RFC 3339 query value.
func parseTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "invalid timestamp").
			WithFieldErrors([]apperrors.FieldError{{Field: field, Code: "format", Message: "must be an RFC 3339 timestamp"}})
	}
	return &t, nil
}

// writeExport renders an export as a downloadable file.
func writeExport(c *gin.Context, format export.Format, base string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+format.FileName(base)+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
