// Package api contains the HTTP API handlers for lowcode
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/engine"
	apperrors "github.com/aethra/lowcode/internal/errors"
)

// Version is reported by the health check and the MCP handshake
const Version = "1.0.0"

// devUserID is the caller when authentication is disabled
const devUserID uint = 1

// Context keys set by UserMiddleware
const (
	ctxUserID = "user_id"
	ctxRoles  = "roles"
)

// Handler serves the dynamic CRUD surface and the shared middleware
type Handler struct {
	resolver *engine.Resolver
	jwt      *auth.JWTService
	perms    *auth.PermissionService
	authCfg  config.AuthConfig
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(resolver *engine.Resolver, jwt *auth.JWTService, perms *auth.PermissionService, authCfg config.AuthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{resolver: resolver, jwt: jwt, perms: perms, authCfg: authCfg, logger: logger}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// UserMiddleware reads the bearer token and stores the caller in the context.
// Requests without a valid token continue anonymously.
func (h *Handler) UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.authCfg.Disabled {
			c.Set(ctxUserID, devUserID)
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		claims, err := h.jwt.ValidateToken(token)
		if err != nil {
			h.logger.Debug("rejected token", zap.Error(err))
			c.Next()
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRoles, claims.Roles)
		c.Next()
	}
}

// RequireAuthMiddleware rejects anonymous requests
func (h *Handler) RequireAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := userID(c); !ok {
			abort(c, apperrors.NewUnauthorizedError(""))
			return
		}
		c.Next()
	}
}

// RequireCapability rejects callers that do not hold capability
func (h *Handler) RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.authCfg.Disabled {
			c.Next()
			return
		}
		id, ok := userID(c)
		if !ok {
			abort(c, apperrors.NewUnauthorizedError(""))
			return
		}
		allowed, err := h.perms.Can(c.Request.Context(), id, capability)
		if err != nil {
			h.logger.Error("capability check failed", zap.Uint("user", id), zap.String("capability", capability), zap.Error(err))
			abort(c, apperrors.NewInternalError(err))
			return
		}
		if !allowed {
			abort(c, apperrors.NewPermissionDeniedError(capability))
			return
		}
		c.Next()
	}
}

// =============================================================================
// DYNAMIC DATA ENDPOINTS
// =============================================================================

// Resource serves every verb of a dynamic resource
// GET/POST/PUT/PATCH/DELETE /api/:resource[/:id]
func (h *Handler) Resource(c *gin.Context) {
	req := engine.Request{
		Resource: c.Param("resource"),
		Method:   c.Request.Method,
		ID:       c.Param("id"),
		Query:    c.Request.URL.Query(),
	}

	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperrors.NewBadRequestError("invalid request body"))
			return
		}
		req.Body = body
	}

	resp := h.resolver.Handle(c.Request.Context(), req)
	c.JSON(resp.Status, resp.Payload)
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Health returns the health status
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lowcode",
		"version": Version,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	// browsers cannot set headers on websocket upgrades
	return c.Query("token")
}

func userID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func respondError(c *gin.Context, err error) {
	status, body := apperrors.ToHTTPError(err)
	c.JSON(status, body)
}

func abort(c *gin.Context, err error) {
	status, body := apperrors.ToHTTPError(err)
	c.AbortWithStatusJSON(status, body)
}
