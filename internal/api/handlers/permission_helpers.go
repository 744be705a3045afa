package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
)

// requirePermission enforces an explicit RBAC check and returns the request
// context and actor ID.
// Fail-closed policy:
// - unauthenticated => 401
// - missing permission => 403
func requirePermission(c *gin.Context, permission string) (context.Context, string, bool) {
	ctx := c.Request.Context()
	actor := middleware.GetUserID(ctx)
	if strings.TrimSpace(actor) == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeAuthFailed, "authentication required"))
		return nil, "", false
	}
	if !middleware.HasPermission(middleware.GetPermissions(ctx), permission) {
		_ = c.Error(apperrors.Forbidden(apperrors.CodeForbidden, "insufficient permissions").
			WithParams(map[string]interface{}{"required": permission}))
		return nil, "", false
	}
	return ctx, actor, true
}
