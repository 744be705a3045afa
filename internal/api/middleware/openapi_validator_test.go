package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

func TestNormalizeValidationPath(t *testing.T) {
	testCases := []struct {
		name     string
		basePath string
		path     string
		want     string
	}{
		{name: "strip prefix", basePath: "/api/v1", path: "/api/v1/operations/op-1", want: "/operations/op-1"},
		{name: "root path", basePath: "/api/v1", path: "/api/v1", want: "/"},
		{name: "no match", basePath: "/api/v1", path: "/metrics", want: "/metrics"},
		{name: "empty base", basePath: "", path: "/operations", want: "/operations"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeValidationPath(normalizeBasePath(tc.basePath), tc.path)
			assert.Equal(t, tc.want, got)
		})
	}
}

func validatedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.Use(MustOpenAPIValidator("/api/v1"))
	router.POST("/api/v1/operations", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"id": "op-1", "state": "uploading"})
	})
	router.POST("/api/v1/rollbacks/:operationId/override", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operation_id": c.Param("operationId")})
	})
	router.GET("/api/v1/audit-logs/export", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/api/v1/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/v1/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "unknown"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, "payouts_up 1")
	})
	return router
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOpenAPIValidator_Requests(t *testing.T) {
	router := validatedRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:   "valid upload",
			method: http.MethodPost, path: "/api/v1/operations",
			body:       `{"kind":"tier-reassignment","files":[{"file_name":"q3.csv","size_bytes":2048}]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:   "unknown kind",
			method: http.MethodPost, path: "/api/v1/operations",
			body:       `{"kind":"payroll-wipe","files":[{"file_name":"q3.csv","size_bytes":2048}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "no files",
			method: http.MethodPost, path: "/api/v1/operations",
			body:       `{"kind":"tier-reassignment","files":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "override without override reason",
			method: http.MethodPost, path: "/api/v1/rollbacks/op-1/override",
			body:       `{"reason":"wrong tier table"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "override with both reasons",
			method: http.MethodPost, path: "/api/v1/rollbacks/op-1/override",
			body:       `{"reason":"wrong tier table","override_reason":"ledger check is stale"}`,
			wantStatus: http.StatusOK,
		},
		{name: "bad export format", method: http.MethodGet, path: "/api/v1/audit-logs/export?format=xml", wantStatus: http.StatusBadRequest},
		{name: "good export format", method: http.MethodGet, path: "/api/v1/audit-logs/export?format=yaml", wantStatus: http.StatusOK},
		{name: "path outside contract passes", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, "body=%s", w.Body.String())
		})
	}
}

func TestOpenAPIValidator_ReportsFieldErrors(t *testing.T) {
	w := serve(validatedRouter(t), http.MethodGet, "/api/v1/audit-logs/export?format=xml", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body apperrors.AppError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeValidationFailed, body.Code)
	require.Len(t, body.FieldErrors, 1)
	assert.Equal(t, "format", body.FieldErrors[0].Field)
}

func TestOpenAPIValidator_Responses(t *testing.T) {
	router := validatedRouter(t)

	w := serve(router, http.MethodGet, "/api/v1/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// "unknown" is not a documented health status.
	w = serve(router, http.MethodGet, "/api/v1/health/ready", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "OPENAPI_RESPONSE_INVALID")
}
