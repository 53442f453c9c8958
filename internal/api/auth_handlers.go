// Package api - Authentication handlers
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/auth"
	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/models"
)

// Login throttling
const (
	maxLoginAttempts = 5
	loginWindow      = 5 * time.Minute
	loginBlock       = 15 * time.Minute
)

// LoginRateLimiter implements rate limiting for login attempts
type LoginRateLimiter struct {
	attempts map[string]*loginAttempt
	mu       sync.Mutex
	now      func() time.Time
}

type loginAttempt struct {
	count     int
	firstTry  time.Time
	blockedAt *time.Time
}

// NewLoginRateLimiter creates a new rate limiter
func NewLoginRateLimiter() *LoginRateLimiter {
	return &LoginRateLimiter{
		attempts: make(map[string]*loginAttempt),
		now:      time.Now,
	}
}

// Allow checks if a login attempt is allowed. It returns the attempts left
// and, when blocked, how long until the block ends.
func (rl *LoginRateLimiter) Allow(key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempt, exists := rl.attempts[key]

	if !exists {
		rl.attempts[key] = &loginAttempt{count: 1, firstTry: now}
		return true, maxLoginAttempts - 1, 0
	}

	if attempt.blockedAt != nil {
		if elapsed := now.Sub(*attempt.blockedAt); elapsed < loginBlock {
			return false, 0, loginBlock - elapsed
		}
		attempt.count = 1
		attempt.firstTry = now
		attempt.blockedAt = nil
		return true, maxLoginAttempts - 1, 0
	}

	if now.Sub(attempt.firstTry) > loginWindow {
		attempt.count = 1
		attempt.firstTry = now
		return true, maxLoginAttempts - 1, 0
	}

	attempt.count++
	if attempt.count > maxLoginAttempts {
		attempt.blockedAt = &now
		return false, 0, loginBlock
	}

	return true, maxLoginAttempts - attempt.count, 0
}

// Reset resets the attempts for a key (on successful login)
func (rl *LoginRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Cleanup removes entries older than twice the block period
func (rl *LoginRateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for key, attempt := range rl.attempts {
		if now.Sub(attempt.firstTry) > 2*loginBlock {
			delete(rl.attempts, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done
func (rl *LoginRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	db          *gorm.DB
	jwtService  *auth.JWTService
	perms       *auth.PermissionService
	rateLimiter *LoginRateLimiter
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(db *gorm.DB, jwtService *auth.JWTService, perms *auth.PermissionService, limiter *LoginRateLimiter, logger *zap.Logger) *AuthHandler {
	if limiter == nil {
		limiter = NewLoginRateLimiter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{db: db, jwtService: jwtService, perms: perms, rateLimiter: limiter, logger: logger}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates a user and returns an access token
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request", "details": err.Error()})
		return
	}

	rateLimitKey := c.ClientIP() + ":" + req.Email
	allowed, remaining, retryAfter := h.rateLimiter.Allow(rateLimitKey)
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"message":     "too many login attempts, please wait before trying again",
			"retry_after": retryAfter.Seconds(),
		})
		return
	}

	user, err := auth.Authenticate(c.Request.Context(), h.db, req.Email, req.Password)
	if err != nil {
		var unauthorized *apperrors.UnauthorizedError
		if errors.As(err, &unauthorized) {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.JSON(http.StatusUnauthorized, gin.H{
				"success":            false,
				"message":            unauthorized.Error(),
				"attempts_remaining": remaining,
			})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		respondError(c, apperrors.NewInternalError(err))
		return
	}

	h.rateLimiter.Reset(rateLimitKey)

	roles := auth.RoleNames(user)
	token, err := h.jwtService.Generate(user.ID, user.Email, roles)
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    userView(user),
		"token":   token,
		"roles":   roles,
	})
}

// GetMe returns the current authenticated user
// GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		respondError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).Preload("Roles").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NewNotFoundError("user"))
			return
		}
		respondError(c, err)
		return
	}

	var capabilities []string
	for _, capability := range auth.Capabilities {
		if granted, err := h.perms.Can(c.Request.Context(), id, capability); err == nil && granted {
			capabilities = append(capabilities, capability)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"user":         userView(&user),
		"roles":        auth.RoleNames(&user),
		"capabilities": capabilities,
	})
}

// ChangePassword changes the user's password
// POST /auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		respondError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request", "details": err.Error()})
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
		respondError(c, apperrors.NewNotFoundError("user"))
		return
	}
	if !auth.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		respondError(c, apperrors.NewUnauthorizedError("current password is incorrect"))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Model(&user).Update("password_hash", hash).Error; err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password changed successfully"})
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"name":          u.Name,
		"active":        u.Active,
		"last_login_at": u.LastLoginAt,
	}
}
