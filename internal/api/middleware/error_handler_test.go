package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func serveError(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(RequestID(), ErrorHandler())
	router.GET("/x", handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestErrorHandler_NoErrors(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorHandler_AppError(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		_ = c.Error(apperrors.ErrOperationSlotBusy("tier-reassignment", "op-1"))
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Params  map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeOperationSlotBusy, body.Code)
	assert.Equal(t, "op-1", body.Params["active_operation_id"])
}

func TestErrorHandler_FieldErrors(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request").
			WithFieldErrors([]apperrors.FieldError{{Field: "reason", Code: "REQUIRED"}}))
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field_errors":[{"field":"reason","code":"REQUIRED"}]`)
}

func TestErrorHandler_WrappedAppError(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("approve: %w", apperrors.ErrOperationNotFound("op-404")))
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeOperationNotFound)
}

func TestErrorHandler_GenericError(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("something unexpected"))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, w.Body.String(), "something unexpected")
}

func TestErrorHandler_AlreadyWritten(t *testing.T) {
	w := serveError(t, func(c *gin.Context) {
		c.String(http.StatusAccepted, "partial")
		_ = c.Error(fmt.Errorf("late failure"))
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}
