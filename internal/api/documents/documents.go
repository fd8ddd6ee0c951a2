// Package documents implements the EDMS endpoints: controlled document CRUD,
// the review lifecycle (submit, approve, reject), and content upload/download
// against the storage backend.
//
// Every mutation runs inside one database transaction together with its audit
// record. If the audit insert fails, the document change rolls back with it —
// an unaudited change cannot reach the database.
package documents

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
	"github.com/jinkaiteo/qms-backend/internal/storage"
)

// moduleEDMS tags every document audit record.
const moduleEDMS = "EDMS"

// Handlers implements the document endpoints.
type Handlers struct {
	docRepo  *repositories.DocumentRepository
	auditSvc *audit.Service
	store    storage.Storage
}

// NewHandlers creates document Handlers.
func NewHandlers(docRepo *repositories.DocumentRepository, auditSvc *audit.Service, store storage.Storage) *Handlers {
	return &Handlers{docRepo: docRepo, auditSvc: auditSvc, store: store}
}

type createDocumentRequest struct {
	Title      string `json:"title" binding:"required"`
	DocumentNo string `json:"document_no" binding:"required"`
}

type updateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// @Summary      List documents
// @Tags         Documents
// @Produce      json
// @Param        status  query  string  false  "Filter by status"
// @Success      200  {object}  map[string]interface{}  "documents, total, limit, offset"
// @Router       /api/v1/documents [get]
// ListHandler returns a paginated list of documents, newest first.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *string
		if v := c.Query("status"); v != "" {
			if !validStatus(v) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
				return
			}
			status = &v
		}

		limit, offset := pagination(c, 50)
		docs, total, err := h.docRepo.List(c.Request.Context(), status, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
			return
		}

		out := make([]gin.H, 0, len(docs))
		for _, doc := range docs {
			out = append(out, documentResponse(doc))
		}
		c.JSON(http.StatusOK, gin.H{
			"documents": out,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Document not found"
// @Router       /api/v1/documents/{id} [get]
// GetHandler returns a single document.
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.load(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, documentResponse(doc))
	}
}

// @Summary      Create document
// @Description  Creates a controlled document in DRAFT at revision 1, owned by the caller.
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Router       /api/v1/documents [post]
// CreateHandler creates a document.
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title and document_no are required"})
			return
		}

		actor := middleware.ActorFromContext(c)
		if actor.ID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		doc := &models.Document{
			Title:      req.Title,
			DocumentNo: req.DocumentNo,
			Revision:   1,
			Status:     models.DocumentStatusDraft,
			OwnerID:    *actor.ID,
		}

		err := h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.docRepo.Create(c.Request.Context(), tx, doc); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionCreate, doc.ID, nil, doc.Snapshot(), nil)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create document"})
			return
		}

		c.JSON(http.StatusCreated, documentResponse(doc))
	}
}

// @Summary      Update document
// @Description  Edits document metadata. Only DRAFT and REJECTED documents are editable.
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Document not editable in its current status"
// @Router       /api/v1/documents/{id} [put]
// UpdateHandler edits a document's metadata.
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}

		doc, ok := h.load(c)
		if !ok {
			return
		}
		if !editable(doc.Status) {
			c.JSON(http.StatusConflict, gin.H{"error": "Document is not editable in status " + doc.Status})
			return
		}

		prev := doc.Snapshot()
		doc.Title = req.Title

		err := h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.docRepo.Update(c.Request.Context(), tx, doc); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionUpdate, doc.ID, prev, doc.Snapshot(), nil)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update document"})
			return
		}

		c.JSON(http.StatusOK, documentResponse(doc))
	}
}

// @Summary      Delete document
// @Description  Deletes a document. Only DRAFT documents can be deleted; anything past draft is retired by approving a superseding revision, never removed.
// @Tags         Documents
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: deleted"
// @Failure      409  {object}  map[string]interface{}  "Document is not a draft"
// @Router       /api/v1/documents/{id} [delete]
// DeleteHandler deletes a draft document.
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.load(c)
		if !ok {
			return
		}
		if doc.Status != models.DocumentStatusDraft {
			c.JSON(http.StatusConflict, gin.H{"error": "Only draft documents can be deleted"})
			return
		}

		err := h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.docRepo.Delete(c.Request.Context(), tx, doc.ID); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionDelete, doc.ID, doc.Snapshot(), nil, nil)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete document"})
			return
		}

		// Draft content in the storage backend is orphaned once the row is
		// gone; removal is best effort.
		if doc.StorageKey != nil {
			_ = h.store.Delete(c.Request.Context(), *doc.StorageKey)
		}

		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// SubmitHandler moves a DRAFT or REJECTED document into IN_REVIEW.
func (h *Handlers) SubmitHandler() gin.HandlerFunc {
	return h.transition("submit", audit.ActionUpdate, models.DocumentStatusInReview, false,
		models.DocumentStatusDraft, models.DocumentStatusRejected)
}

// ApproveHandler approves an IN_REVIEW document.
func (h *Handlers) ApproveHandler() gin.HandlerFunc {
	return h.transition("approve", audit.ActionApprove, models.DocumentStatusApproved, false,
		models.DocumentStatusInReview)
}

// RejectHandler rejects an IN_REVIEW document. A reason is mandatory: the
// rejection rationale is part of the quality record.
func (h *Handlers) RejectHandler() gin.HandlerFunc {
	return h.transition("reject", audit.ActionReject, models.DocumentStatusRejected, true,
		models.DocumentStatusInReview)
}

// ObsoleteHandler retires an APPROVED document.
func (h *Handlers) ObsoleteHandler() gin.HandlerFunc {
	return h.transition("obsolete", audit.ActionUpdate, models.DocumentStatusObsolete, true,
		models.DocumentStatusApproved)
}

// transition builds a handler that moves a document from one of the given
// statuses to the target status and audits the move with the given action.
func (h *Handlers) transition(name string, action audit.Action, target string, reasonRequired bool, from ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		if reasonRequired && req.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required to " + name})
			return
		}

		doc, ok := h.load(c)
		if !ok {
			return
		}
		if !statusIn(doc.Status, from) {
			c.JSON(http.StatusConflict, gin.H{"error": "Cannot " + name + " a document in status " + doc.Status})
			return
		}

		prev := doc.Snapshot()
		doc.Status = target

		var reason *string
		if req.Reason != "" {
			reason = &req.Reason
		}

		err := h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.docRepo.Update(c.Request.Context(), tx, doc); err != nil {
				return err
			}
			return h.recordTx(c, tx, action, doc.ID, prev, doc.Snapshot(), reason)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + name + " document"})
			return
		}

		c.JSON(http.StatusOK, documentResponse(doc))
	}
}

// load fetches the document named in the path, writing the error response
// itself when the document cannot be served.
func (h *Handlers) load(c *gin.Context) (*models.Document, bool) {
	doc, err := h.docRepo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load document"})
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return nil, false
	}
	return doc, true
}

// inTx runs fn inside one transaction. Rollback after a successful commit is
// a no-op, so the deferred call is safe on every path.
func (h *Handlers) inTx(c *gin.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := h.docRepo.Begin(c.Request.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// recordTx writes the audit record for a document mutation on the caller's
// transaction.
func (h *Handlers) recordTx(c *gin.Context, tx *sqlx.Tx, action audit.Action, docID string, prev, next map[string]interface{}, reason *string) error {
	actor := middleware.ActorFromContext(c)
	_, err := h.auditSvc.RecordTx(c.Request.Context(), tx, audit.Entry{
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Action:          action,
		EntityTable:     "documents",
		EntityID:        &docID,
		PreviousState:   prev,
		NewState:        next,
		ClientIP:        actor.ClientIP,
		ClientUserAgent: actor.UserAgent,
		SessionID:       actor.SessionID,
		Reason:          reason,
		Module:          moduleEDMS,
	})
	return err
}

func documentResponse(doc *models.Document) gin.H {
	out := gin.H{
		"id":          doc.ID,
		"title":       doc.Title,
		"document_no": doc.DocumentNo,
		"revision":    doc.Revision,
		"status":      doc.Status,
		"owner_id":    doc.OwnerID,
		"has_content": doc.StorageKey != nil,
		"created_at":  doc.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if doc.ContentHash != nil {
		out["content_hash"] = *doc.ContentHash
	}
	if doc.ContentType != nil {
		out["content_type"] = *doc.ContentType
	}
	return out
}

func editable(status string) bool {
	return status == models.DocumentStatusDraft || status == models.DocumentStatusRejected
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case models.DocumentStatusDraft, models.DocumentStatusInReview,
		models.DocumentStatusApproved, models.DocumentStatusRejected,
		models.DocumentStatusObsolete:
		return true
	}
	return false
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
