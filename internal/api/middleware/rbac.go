package middleware

import (
	"net/http"
	"slices"
	"sort"

	"github.com/gin-gonic/gin"

	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

// Permissions checked by the API.
const (
	PermOperationCreate  = "operation:create"
	PermOperationRead    = "operation:read"
	PermOperationApprove = "operation:approve"
	PermOperationExecute = "operation:execute"
	PermRollbackRead     = "rollback:read"
	PermRollbackExecute  = "rollback:execute"
	PermRollbackOverride = "rollback:override"
	PermAuditRead        = "audit:read"

	// PermPlatformAdmin grants every permission.
	PermPlatformAdmin = "platform:admin"
)

// RolePermissions maps the built-in roles to the permissions they grant.
var RolePermissions = map[string][]string{
	"comp-analyst": {PermOperationCreate, PermOperationRead, PermOperationExecute, PermRollbackRead},
	"comp-manager": {
		PermOperationCreate, PermOperationRead, PermOperationApprove, PermOperationExecute,
		PermRollbackRead, PermRollbackExecute, PermAuditRead,
	},
	"finance-controller": {PermOperationRead, PermOperationApprove, PermRollbackRead, PermRollbackExecute, PermRollbackOverride, PermAuditRead},
	"auditor":            {PermOperationRead, PermRollbackRead, PermAuditRead},
	"admin":              {PermPlatformAdmin},
}

// EffectivePermissions merges the direct permissions with those granted by
// roles. Unknown roles grant nothing. The result is sorted and deduplicated.
func EffectivePermissions(roles, direct []string) []string {
	set := make(map[string]struct{}, len(direct))
	for _, p := range direct {
		set[p] = struct{}{}
	}
	for _, r := range roles {
		for _, p := range RolePermissions[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasPermission reports whether perms grant permission.
func HasPermission(perms []string, permission string) bool {
	return slices.Contains(perms, PermPlatformAdmin) || slices.Contains(perms, permission)
}

// RequirePermission returns middleware that checks if the authenticated user
// holds a permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(string(ctxKeyPermissions))
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": apperrors.CodeForbidden, "message": "no permissions in context",
			})
			return
		}
		permList, ok := perms.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": apperrors.CodeForbidden, "message": "invalid permissions type",
			})
			return
		}

		if HasPermission(permList, permission) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    apperrors.CodeForbidden,
			"message": "insufficient permissions",
			"params":  gin.H{"required": permission},
		})
	}
}
