package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
	"github.com/JustVic19/Payouts-sub000/internal/api/middleware"
	"github.com/JustVic19/Payouts-sub000/internal/config"
)

const apiBasePath = "/api/v1"

// defaultAllowedOrigins are the local console origins used when none are configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// restrictedPrefixes map route prefixes to the permission they require on
// top of the per-handler checks.
var restrictedPrefixes = map[string]string{
	apiBasePath + "/audit-logs": middleware.PermAuditRead,
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), cors.New(buildCORSConfig(cfg)))
	router.Use(jwtSkipPublic(jwtCfg, publicPrefixes(cfg)))
	router.Use(rbacRestrictedRoutes())
	// The validator wraps the error handler so rendered errors are checked
	// against the contract like any other response.
	router.Use(middleware.MustOpenAPIValidator(apiBasePath), middleware.ErrorHandler())

	handlers.RegisterRoutes(router.Group(apiBasePath), server)

	if cfg.Metrics.Enabled && metricsHandler != nil {
		router.GET(metricsPath(cfg), gin.WrapH(metricsHandler))
	}
	return router
}

// publicPrefixes are the routes that do NOT require JWT authentication.
func publicPrefixes(cfg *config.Config) []string {
	prefixes := []string{apiBasePath + "/health/"}
	if cfg.Metrics.Enabled {
		prefixes = append(prefixes, metricsPath(cfg))
	}
	return prefixes
}

func metricsPath(cfg *config.Config) string {
	path := strings.TrimSpace(cfg.Metrics.Path)
	if path == "" {
		return "/metrics"
	}
	return path
}

// jwtSkipPublic returns middleware that applies JWT auth only on non-public routes.
func jwtSkipPublic(jwtCfg middleware.JWTConfig, public []string) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(jwtCfg)
	return func(c *gin.Context) {
		for _, prefix := range public {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}

// rbacRestrictedRoutes enforces the prefix permissions of restrictedPrefixes.
func rbacRestrictedRoutes() gin.HandlerFunc {
	guards := make(map[string]gin.HandlerFunc, len(restrictedPrefixes))
	for prefix, perm := range restrictedPrefixes {
		guards[prefix] = middleware.RequirePermission(perm)
	}
	return func(c *gin.Context) {
		for prefix, guard := range guards {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				guard(c)
				return
			}
		}
		c.Next()
	}
}

// buildCORSConfig never combines a wildcard origin with credentials unless
// the unsafe flag is set, and then drops credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}

// jwtConfig builds the token settings shared by the auth middleware.
func jwtConfig(cfg *config.Config) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.Security.JWTVerificationKeys))
	for _, key := range cfg.Security.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.Security.JWTSigningKey),
		VerificationKeys: verificationKeys,
		Issuer:           cfg.Security.JWTIssuer,
		ExpiresIn:        cfg.Security.TokenLifetime,
	}
}
