// Package users implements account administration: listing accounts, creating
// them, and enabling or disabling login. Accounts are never deleted — a user
// who leaves is deactivated so their audit history keeps a valid actor.
package users

import (
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

// Handlers implements the user administration endpoints.
type Handlers struct {
	userRepo *repositories.UserRepository
	auditSvc *audit.Service
}

// NewHandlers creates user Handlers.
func NewHandlers(userRepo *repositories.UserRepository, auditSvc *audit.Service) *Handlers {
	return &Handlers{userRepo: userRepo, auditSvc: auditSvc}
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required,min=12"`
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// @Summary      List users
// @Tags         Users
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "users, total, limit, offset"
// @Router       /api/v1/users [get]
// ListHandler returns a paginated list of accounts ordered by username.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c, 50)

		users, total, err := h.userRepo.List(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
			return
		}

		out := make([]gin.H, 0, len(users))
		for _, u := range users {
			out = append(out, userResponse(u))
		}
		c.JSON(http.StatusOK, gin.H{
			"users":  out,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// @Summary      Create user
// @Tags         Users
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Validation error or duplicate username"
// @Router       /api/v1/users [post]
// CreateHandler creates an account with a bcrypt-hashed password.
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, full_name, email and a password of at least 12 characters are required"})
			return
		}

		existing, err := h.userRepo.GetByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check username"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}

		user := &models.User{
			Username:     req.Username,
			FullName:     req.FullName,
			Email:        req.Email,
			PasswordHash: hash,
			IsActive:     true,
		}
		if err := h.userRepo.Create(c.Request.Context(), user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}

		if err := h.record(c, audit.ActionCreate, user.ID, nil, snapshot(user), nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record user creation"})
			return
		}

		c.JSON(http.StatusCreated, userResponse(user))
	}
}

// @Summary      Enable or disable a user
// @Tags         Users
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/users/{id}/active [put]
// SetActiveHandler enables or disables an account.
func (h *Handlers) SetActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}

		var req setActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
			return
		}

		user, err := h.userRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		prev := snapshot(user)
		if err := h.userRepo.SetActive(c.Request.Context(), id, *req.Active); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}
		user.IsActive = *req.Active

		var reason *string
		if r := c.Query("reason"); r != "" {
			reason = &r
		}
		if err := h.record(c, audit.ActionUpdate, user.ID, prev, snapshot(user), reason); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record user update"})
			return
		}

		c.JSON(http.StatusOK, userResponse(user))
	}
}

// record writes the audit record for a user administration action.
func (h *Handlers) record(c *gin.Context, action audit.Action, subjectID int64, prev, next map[string]interface{}, reason *string) error {
	actor := middleware.ActorFromContext(c)
	entityID := strconv.FormatInt(subjectID, 10)
	_, err := h.auditSvc.Record(c.Request.Context(), audit.Entry{
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Action:          action,
		EntityTable:     "users",
		EntityID:        &entityID,
		PreviousState:   prev,
		NewState:        next,
		ClientIP:        actor.ClientIP,
		ClientUserAgent: actor.UserAgent,
		SessionID:       actor.SessionID,
		Reason:          reason,
		Module:          audit.ModuleSystem,
	})
	return err
}

// snapshot returns the audited fields of a user account. The password hash is
// deliberately excluded from state snapshots.
func snapshot(u *models.User) map[string]interface{} {
	return map[string]interface{}{
		"username":  u.Username,
		"full_name": u.FullName,
		"email":     u.Email,
		"is_active": u.IsActive,
	}
}

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

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
