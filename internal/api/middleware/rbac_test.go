package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestEffectivePermissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roles  []string
		direct []string
		want   []string
	}{
		{name: "nothing", want: []string{}},
		{name: "direct only", direct: []string{PermAuditRead}, want: []string{PermAuditRead}},
		{name: "unknown role grants nothing", roles: []string{"intern"}, want: []string{}},
		{
			name:   "role and direct merged without duplicates",
			roles:  []string{"auditor"},
			direct: []string{PermAuditRead, PermOperationApprove},
			want:   []string{PermAuditRead, PermOperationApprove, PermOperationRead, PermRollbackRead},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, EffectivePermissions(tc.roles, tc.direct))
		})
	}
}

func TestHasPermission(t *testing.T) {
	t.Parallel()

	assert.True(t, HasPermission([]string{PermPlatformAdmin}, PermRollbackOverride))
	assert.True(t, HasPermission([]string{PermRollbackOverride}, PermRollbackOverride))
	assert.False(t, HasPermission([]string{PermRollbackExecute}, PermRollbackOverride))
	assert.False(t, HasPermission(nil, PermOperationRead))
}

func TestRequirePermission(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	run := func(perms interface{}, required string) (int, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if perms != nil {
			c.Set("permissions", perms)
		}

		RequirePermission(required)(c)
		return w.Code, !c.IsAborted()
	}

	tests := []struct {
		name       string
		perms      interface{}
		required   string
		wantStatus int
		wantCalled bool
	}{
		{"platform admin bypasses required permission", []string{PermPlatformAdmin}, PermRollbackOverride, http.StatusOK, true},
		{"specific permission allowed", []string{PermAuditRead}, PermAuditRead, http.StatusOK, true},
		{"missing permission forbidden", []string{PermAuditRead}, PermRollbackExecute, http.StatusForbidden, false},
		{"no permissions in context", nil, PermAuditRead, http.StatusForbidden, false},
		{"wrong permissions type", "audit:read", PermAuditRead, http.StatusForbidden, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, called := run(tc.perms, tc.required)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCalled, called)
		})
	}
}
