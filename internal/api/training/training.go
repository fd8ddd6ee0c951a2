// Package training implements the TRM endpoints: assigning training to users,
// listing a user's assignments, and recording completion. Completion is the
// trainee's attestation and is audited as a SIGN action; assignment and other
// changes are plain CREATE/UPDATE records.
package training

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/db/models"
	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
	"github.com/jinkaiteo/qms-backend/internal/middleware"
)

// moduleTRM tags every training audit record.
const moduleTRM = "TRM"

// Handlers implements the training endpoints.
type Handlers struct {
	trainingRepo *repositories.TrainingRepository
	userRepo     *repositories.UserRepository
	auditSvc     *audit.Service
}

// NewHandlers creates training Handlers.
func NewHandlers(trainingRepo *repositories.TrainingRepository, userRepo *repositories.UserRepository, auditSvc *audit.Service) *Handlers {
	return &Handlers{trainingRepo: trainingRepo, userRepo: userRepo, auditSvc: auditSvc}
}

type assignRequest struct {
	UserID     int64      `json:"user_id" binding:"required"`
	CourseName string     `json:"course_name" binding:"required"`
	DueAt      *time.Time `json:"due_at"`
}

// @Summary      List training records
// @Description  Returns a user's training assignments, newest first. Defaults to the caller's own records.
// @Tags         Training
// @Produce      json
// @Param        user_id  query  int  false  "User whose records to list (defaults to the caller)"
// @Success      200  {object}  map[string]interface{}  "records, total, limit, offset"
// @Router       /api/v1/training [get]
// ListHandler returns training assignments for a user.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.ActorFromContext(c)

		var userID int64
		if v := c.Query("user_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id parameter"})
				return
			}
			userID = id
		} else if actor.ID != nil {
			userID = *actor.ID
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		limit, offset := pagination(c, 50)
		records, total, err := h.trainingRepo.ListByUser(c.Request.Context(), userID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list training records"})
			return
		}

		out := make([]gin.H, 0, len(records))
		for _, rec := range records {
			out = append(out, trainingResponse(rec))
		}
		c.JSON(http.StatusOK, gin.H{
			"records": out,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// @Summary      Assign training
// @Description  Assigns a course to a user with an optional due date.
// @Tags         Training
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Assignee not found"
// @Router       /api/v1/training [post]
// AssignHandler creates a training assignment.
func (h *Handlers) AssignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and course_name are required"})
			return
		}

		user, err := h.userRepo.GetByID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load assignee"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assignee not found"})
			return
		}

		rec := &models.TrainingRecord{
			UserID:     req.UserID,
			CourseName: req.CourseName,
			Status:     models.TrainingStatusAssigned,
			DueAt:      req.DueAt,
		}

		err = h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.trainingRepo.Create(c.Request.Context(), tx, rec); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionCreate, rec.ID, nil, rec.Snapshot(), nil)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign training"})
			return
		}

		c.JSON(http.StatusCreated, trainingResponse(rec))
	}
}

// @Summary      Complete training
// @Description  Marks an assignment complete. The completion is the trainee's attestation and is audited as a SIGN action.
// @Tags         Training
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Assignment already completed"
// @Router       /api/v1/training/{id}/complete [post]
// CompleteHandler marks a training assignment as completed.
func (h *Handlers) CompleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := h.trainingRepo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load training record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Training record not found"})
			return
		}
		if rec.Status == models.TrainingStatusCompleted {
			c.JSON(http.StatusConflict, gin.H{"error": "Training already completed"})
			return
		}

		prev := rec.Snapshot()
		completedAt := time.Now().UTC()
		rec.Status = models.TrainingStatusCompleted
		rec.CompletedAt = &completedAt

		err = h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.trainingRepo.SetStatus(c.Request.Context(), tx, rec.ID, rec.Status, rec.CompletedAt); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionSign, rec.ID, prev, rec.Snapshot(), nil)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete training"})
			return
		}

		c.JSON(http.StatusOK, trainingResponse(rec))
	}
}

func (h *Handlers) inTx(c *gin.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := h.trainingRepo.Begin(c.Request.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *Handlers) recordTx(c *gin.Context, tx *sqlx.Tx, action audit.Action, recID string, prev, next map[string]interface{}, reason *string) error {
	actor := middleware.ActorFromContext(c)
	_, err := h.auditSvc.RecordTx(c.Request.Context(), tx, audit.Entry{
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Action:          action,
		EntityTable:     "training_records",
		EntityID:        &recID,
		PreviousState:   prev,
		NewState:        next,
		ClientIP:        actor.ClientIP,
		ClientUserAgent: actor.UserAgent,
		SessionID:       actor.SessionID,
		Reason:          reason,
		Module:          moduleTRM,
	})
	return err
}

func trainingResponse(rec *models.TrainingRecord) gin.H {
	out := gin.H{
		"id":          rec.ID,
		"user_id":     rec.UserID,
		"course_name": rec.CourseName,
		"status":      rec.Status,
		"created_at":  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.DueAt != nil {
		out["due_at"] = rec.DueAt.UTC().Format(time.RFC3339)
	}
	if rec.CompletedAt != nil {
		out["completed_at"] = rec.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
