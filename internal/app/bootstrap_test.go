package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/config"
	"github.com/JustVic19/Payouts-sub000/internal/domain"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, ShutdownTimeout: 5 * time.Second},
		Worker: config.WorkerConfig{GeneralPoolSize: 4, ExecutionPoolSize: 2},
		Operations: config.OperationsConfig{
			AllowedExtensions: []string{"csv"},
			MaxFileSizeBytes:  1 << 20,
			Approval:          config.ApprovalConfig{MaxRecords: 1000, MaxMonetaryImpact: "100000"},
			ExecutionTimeout:  time.Minute,
		},
		Rollback: config.RollbackConfig{Window: 24 * time.Hour, SweepSchedule: "*/5 * * * *"},
		Collaborators: config.CollaboratorsConfig{
			SinglePayoutLimit: "50000",
			Tiers:             []string{"Bronze", "Silver", "Gold", "Platinum"},
			BatchSize:         10,
		},
		Security: config.SecurityConfig{
			JWTSigningKey: "test-signing-key-with-at-least-32-chars",
			JWTIssuer:     "payouts",
			TokenLifetime: time.Hour,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestBootstrap_UnreachableDatabase(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     65432, // Non-existent port
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}

	app, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err, "Bootstrap should fail when the database is unreachable")
	assert.Nil(t, app)
}

func TestBootstrap_InvalidSweepSchedule(t *testing.T) {
	cfg := memoryConfig()
	cfg.Rollback.SweepSchedule = "not a schedule"

	app, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback")
	assert.Nil(t, app)
}

type testClient struct {
	t      *testing.T
	router http.Handler
	jwt    middleware.JWTConfig
}

func (c testClient) do(method, path string, body interface{}, user string, roles ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, _, err := middleware.GenerateToken(c.jwt, user, user, roles, nil)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func (c testClient) operation(id, user string, roles ...string) domain.Operation {
	c.t.Helper()
	w := c.do(http.MethodGet, "/api/v1/operations/"+id, nil, user, roles...)
	require.Equal(c.t, http.StatusOK, w.Code, w.Body.String())
	var op domain.Operation
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &op))
	return op
}

func TestBootstrap_InMemoryEndToEnd(t *testing.T) {
	cfg := memoryConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Bootstrap(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(context.Background())

	assert.False(t, app.Infra.HasDatabase())
	assert.Nil(t, app.Infra.RiverClient())

	client := testClient{t: t, router: app.Router, jwt: jwtConfig(cfg)}

	w := client.do(http.MethodGet, "/api/v1/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = client.do(http.MethodGet, "/api/v1/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = client.do(http.MethodGet, "/api/v1/operations", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = client.do(http.MethodGet, "/api/v1/audit-logs", nil, "alice", "comp-analyst")
	assert.Equal(t, http.StatusForbidden, w.Code)

	content := "employee_id,amount,effective_date\nEMP-1000,100,2026-01-15\nEMP-1001,100,2026-01-15\n"
	upload := map[string]interface{}{
		"kind": domain.KindMassScenarioApply,
		"files": []map[string]interface{}{{
			"file_name":  "payouts.csv",
			"size_bytes": len(content),
			"mime_type":  "text/csv",
			"content":    []byte(content),
		}},
	}
	w = client.do(http.MethodPost, "/api/v1/operations", upload, "alice", "comp-analyst")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var created domain.Operation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	require.Eventually(t, func() bool {
		return client.operation(created.ID, "alice", "comp-analyst").State == domain.StateValidated
	}, 5*time.Second, 20*time.Millisecond)

	w = client.do(http.MethodPost, "/api/v1/operations/"+created.ID+"/execute", nil, "alice", "comp-analyst")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		return client.operation(created.ID, "alice", "comp-analyst").State == domain.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		w := client.do(http.MethodGet, "/api/v1/rollbacks/"+created.ID, nil, "bob", "auditor")
		return w.Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	w = client.do(http.MethodGet, fmt.Sprintf("/api/v1/audit-logs?operation_id=%s", created.ID), nil, "bob", "auditor")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = client.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payouts_operations_total")
}

func TestApplication_Shutdown_Empty(t *testing.T) {
	app := &Application{}

	assert.NotPanics(t, func() {
		app.Shutdown(context.Background())
	}, "Shutdown on empty Application should not panic")
}
