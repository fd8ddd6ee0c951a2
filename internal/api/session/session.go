// Package session implements login and logout. Both are audited: a successful
// login writes a LOGIN record carrying the new session id, a failed login
// writes a system-action record naming the attempted username, and logout
// revokes the session before writing its LOGOUT record.
package session

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/auth"
	"github.com/jinkaiteo/qms-backend/internal/db/models"
	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
	"github.com/jinkaiteo/qms-backend/internal/middleware"
)

// Handlers implements the session endpoints.
type Handlers struct {
	userRepo *repositories.UserRepository
	auditSvc *audit.Service
	revoker  auth.Revoker
	tokenTTL time.Duration
}

// NewHandlers creates session Handlers.
func NewHandlers(userRepo *repositories.UserRepository, auditSvc *audit.Service, revoker auth.Revoker, tokenTTL time.Duration) *Handlers {
	return &Handlers{
		userRepo: userRepo,
		auditSvc: auditSvc,
		revoker:  revoker,
		tokenTTL: tokenTTL,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Log in
// @Description  Authenticates with username and password and returns a bearer JWT.
// @Tags         Session
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates a user and issues a session token.
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, err := h.userRepo.GetByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}

		if user == nil || !user.IsActive || !auth.CheckPassword(user.PasswordHash, req.Password) {
			h.recordFailedLogin(c, req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		token, sessionID, err := auth.GenerateJWT(user.ID, user.Username, user.FullName, h.tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}

		// The LOGIN record must exist before the token leaves the server: a
		// session that cannot be audited is not issued.
		entityID := strconv.FormatInt(user.ID, 10)
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()
		_, err = h.auditSvc.Record(c.Request.Context(), audit.Entry{
			ActorID:         &user.ID,
			ActorName:       user.FullName,
			Action:          audit.ActionLogin,
			EntityTable:     "users",
			EntityID:        &entityID,
			NewState:        map[string]interface{}{"username": user.Username},
			ClientIP:        &clientIP,
			ClientUserAgent: &userAgent,
			SessionID:       &sessionID,
			Module:          audit.ModuleSystem,
		})
		if err != nil {
			slog.Error("failed to audit login", "username", user.Username, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record login"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_at": time.Now().Add(h.tokenTTL).UTC().Format(time.RFC3339),
			"user":       userResponse(user),
		})
	}
}

// recordFailedLogin writes a system-action audit record for a rejected login
// attempt. Best effort: a failed attempt is already rejected, so an audit
// write error here is logged rather than changing the response.
func (h *Handlers) recordFailedLogin(c *gin.Context, username string) {
	reason := "invalid credentials"
	clientIP := c.ClientIP()
	userAgent := c.Request.UserAgent()
	_, err := h.auditSvc.Record(c.Request.Context(), audit.Entry{
		ActorName:       username,
		Action:          audit.ActionLogin,
		EntityTable:     "users",
		NewState:        map[string]interface{}{"outcome": "FAILED"},
		ClientIP:        &clientIP,
		ClientUserAgent: &userAgent,
		Reason:          &reason,
		Module:          audit.ModuleSystem,
		IsSystemAction:  true,
	})
	if err != nil {
		slog.Error("failed to audit rejected login", "username", username, "error", err)
	}
}

// @Summary      Log out
// @Description  Revokes the current session and writes a LOGOUT audit record.
// @Tags         Session
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: logged out"
// @Router       /api/v1/auth/logout [post]
// LogoutHandler revokes the caller's session.
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.ActorFromContext(c)
		if actor.SessionID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No session to log out"})
			return
		}

		// Revoke for the full token TTL; the revocation only needs to outlive
		// the token's own expiry.
		if err := h.revoker.Revoke(c.Request.Context(), *actor.SessionID, h.tokenTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke session"})
			return
		}

		var entityID *string
		if actor.ID != nil {
			id := strconv.FormatInt(*actor.ID, 10)
			entityID = &id
		}
		_, err := h.auditSvc.Record(c.Request.Context(), audit.Entry{
			ActorID:         actor.ID,
			ActorName:       actor.Name,
			Action:          audit.ActionLogout,
			EntityTable:     "users",
			EntityID:        entityID,
			ClientIP:        actor.ClientIP,
			ClientUserAgent: actor.UserAgent,
			SessionID:       actor.SessionID,
			Module:          audit.ModuleSystem,
		})
		if err != nil {
			slog.Error("failed to audit logout", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record logout"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}

// @Summary      Current user
// @Description  Returns the authenticated user's profile.
// @Tags         Session
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/auth/me [get]
// MeHandler returns the authenticated user.
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(middleware.UserKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		user, ok := v.(*models.User)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user in context"})
			return
		}
		c.JSON(http.StatusOK, userResponse(user))
	}
}

// userResponse is the wire form of a user. The password hash never leaves the
// handler layer.
func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"username":   u.Username,
		"full_name":  u.FullName,
		"email":      u.Email,
		"is_active":  u.IsActive,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
