// Package audittrail exposes the audit trail over HTTP: filtered listing,
// single-record lookup, and on-demand integrity verification. Everything here
// is read-only — the trail is written by the handlers that perform the actions,
// never through this API.
package audittrail

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

// defaultVerifyWindow is the lookback used when a verification request names
// no explicit window.
const defaultVerifyWindow = 30 * 24 * time.Hour

// Handlers implements the audit trail endpoints.
type Handlers struct {
	svc      *audit.Service
	verifier *audit.Verifier
}

// NewHandlers creates audit trail Handlers.
func NewHandlers(svc *audit.Service, verifier *audit.Verifier) *Handlers {
	return &Handlers{svc: svc, verifier: verifier}
}

// recordResponse is the wire form of one audit record.
type recordResponse struct {
	ID              int64                  `json:"id"`
	RecordedAt      time.Time              `json:"recorded_at"`
	ActorID         *int64                 `json:"actor_id"`
	ActorName       string                 `json:"actor_name"`
	Action          string                 `json:"action"`
	EntityTable     string                 `json:"entity_table"`
	EntityID        *string                `json:"entity_id"`
	PreviousState   map[string]interface{} `json:"previous_state,omitempty"`
	NewState        map[string]interface{} `json:"new_state,omitempty"`
	ClientIP        *string                `json:"client_ip,omitempty"`
	ClientUserAgent *string                `json:"client_user_agent,omitempty"`
	SessionID       *string                `json:"session_id,omitempty"`
	Module          string                 `json:"module"`
	Reason          *string                `json:"reason,omitempty"`
	IntegrityHash   string                 `json:"integrity_hash"`
	IsSystemAction  bool                   `json:"is_system_action"`
}

func newRecordResponse(rec *models.AuditRecord) recordResponse {
	return recordResponse{
		ID:              rec.ID,
		RecordedAt:      rec.RecordedAt,
		ActorID:         rec.ActorID,
		ActorName:       rec.ActorName,
		Action:          rec.Action,
		EntityTable:     rec.EntityTable,
		EntityID:        rec.EntityID,
		PreviousState:   rec.PreviousState,
		NewState:        rec.NewState,
		ClientIP:        rec.ClientIP,
		ClientUserAgent: rec.ClientUserAgent,
		SessionID:       rec.SessionID,
		Module:          rec.Module,
		Reason:          rec.Reason,
		IntegrityHash:   rec.IntegrityHash,
		IsSystemAction:  rec.IsSystemAction,
	}
}

// @Summary      List audit records
// @Description  Returns audit records matching the filters, newest first. All supplied filters are ANDed.
// @Tags         Audit
// @Produce      json
// @Param        entity_table  query  string  false  "Filter by entity table"
// @Param        entity_id     query  string  false  "Filter by entity id"
// @Param        actor_id      query  int     false  "Filter by actor id"
// @Param        action        query  string  false  "Filter by action (must be a valid action)"
// @Param        module        query  string  false  "Filter by module"
// @Param        start_date    query  string  false  "Inclusive window start, RFC3339"
// @Param        end_date      query  string  false  "Exclusive window end, RFC3339"
// @Success      200  {object}  map[string]interface{}  "records, total, limit, offset"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit [get]
// ListHandler returns a filtered page of audit records.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		limit, offset := pagination(c, 50)
		records, total, err := h.svc.Query(c.Request.Context(), filters, limit, offset)
		if err != nil {
			if errors.Is(err, audit.ErrUnknownAction) || errors.Is(err, audit.ErrInvalidDateRange) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit records"})
			}
			return
		}

		out := make([]recordResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, newRecordResponse(rec))
		}
		c.JSON(http.StatusOK, gin.H{
			"records": out,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// @Summary      Get one audit record
// @Tags         Audit
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Record not found"
// @Router       /api/v1/audit/{id} [get]
// GetHandler returns a single audit record by id.
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
			return
		}

		rec, err := h.svc.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
			return
		}

		c.JSON(http.StatusOK, newRecordResponse(rec))
	}
}

type verifyRequest struct {
	ID        int64      `json:"id"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Module    string     `json:"module"`
}

// @Summary      Verify audit record integrity
// @Description  Recomputes integrity hashes. With an id, verifies one record; otherwise verifies the window (default: the last 30 days). Mismatches are reported in the result, never as an HTTP error.
// @Tags         Audit
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "total, verified, failed, failed_details"
// @Router       /api/v1/audit/verify [post]
// VerifyHandler runs an integrity verification pass.
func (h *Handlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification request"})
				return
			}
		}

		if req.ID > 0 {
			result, err := h.verifier.VerifyRecord(c.Request.Context(), req.ID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}

		end := time.Now().UTC()
		if req.EndDate != nil {
			end = req.EndDate.UTC()
		}
		start := end.Add(-defaultVerifyWindow)
		if req.StartDate != nil {
			start = req.StartDate.UTC()
		}
		if !start.Before(end) {
			c.JSON(http.StatusBadRequest, gin.H{"error": audit.ErrInvalidDateRange.Error()})
			return
		}

		result, err := h.verifier.VerifyRange(c.Request.Context(), start, end, req.Module)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// parseFilters builds the service filter set from query parameters.
func parseFilters(c *gin.Context) (audit.Filters, error) {
	filters := audit.Filters{
		EntityTable: c.Query("entity_table"),
		EntityID:    c.Query("entity_id"),
		Action:      c.Query("action"),
		Module:      c.Query("module"),
	}

	if v := c.Query("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filters, errInvalidParam("actor_id")
		}
		filters.ActorID = &id
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errInvalidParam("start_date")
		}
		filters.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errInvalidParam("end_date")
		}
		filters.EndDate = &t
	}
	return filters, nil
}

type paramError string

func (e paramError) Error() string { return string(e) }

func errInvalidParam(name string) error {
	return paramError("invalid " + name + " parameter")
}

func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= audit.DefaultQueryLimit {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
