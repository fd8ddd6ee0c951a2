// content.go handles document content: multipart upload into the storage
// backend and audited download streaming back out of it.
package documents

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/db/models"
	"github.com/jinkaiteo/qms-backend/internal/middleware"
	"github.com/jinkaiteo/qms-backend/internal/telemetry"
)

// maxContentSize caps a single content upload at 100 MiB.
const maxContentSize = 100 << 20

// @Summary      Upload document content
// @Description  Stores the uploaded file in the storage backend and binds it to the document. Re-uploading bumps the revision. Only DRAFT and REJECTED documents accept content.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Document not editable in its current status"
// @Router       /api/v1/documents/{id}/content [post]
// UploadContentHandler stores new content for a document.
func (h *Handlers) UploadContentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.load(c)
		if !ok {
			return
		}
		if !editable(doc.Status) {
			c.JSON(http.StatusConflict, gin.H{"error": "Content cannot be changed in status " + doc.Status})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxContentSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds maximum size"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
			return
		}
		defer file.Close()

		prev := doc.Snapshot()
		revision := doc.Revision
		if doc.StorageKey != nil {
			// Replacing existing content is a new revision of the document.
			revision++
		}

		key := fmt.Sprintf("documents/%s/rev-%d/%s", doc.ID, revision, fileHeader.Filename)
		result, err := h.store.Upload(c.Request.Context(), key, file, fileHeader.Size)
		if err != nil {
			slog.Error("content upload failed", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store content"})
			return
		}

		oldKey := doc.StorageKey
		contentType := fileHeader.Header.Get("Content-Type")
		doc.Revision = revision
		doc.StorageKey = &result.Path
		doc.ContentHash = &result.Checksum
		doc.ContentType = &contentType

		err = h.inTx(c, func(tx *sqlx.Tx) error {
			if err := h.docRepo.Update(c.Request.Context(), tx, doc); err != nil {
				return err
			}
			return h.recordTx(c, tx, audit.ActionUpdate, doc.ID, prev, doc.Snapshot(), nil)
		})
		if err != nil {
			// The document row was not updated, so the freshly stored object
			// is unreferenced; remove it rather than leak it.
			_ = h.store.Delete(c.Request.Context(), result.Path)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update document"})
			return
		}

		if oldKey != nil && *oldKey != result.Path {
			if err := h.store.Delete(c.Request.Context(), *oldKey); err != nil {
				slog.Warn("failed to remove superseded content", "key", *oldKey, "error", err)
			}
		}

		c.JSON(http.StatusOK, documentResponse(doc))
	}
}

// @Summary      Download document content
// @Description  Streams the document's content. Every download is audited as a DOWNLOAD action.
// @Tags         Documents
// @Produce      application/octet-stream
// @Success      200  {file}  binary
// @Failure      404  {object}  map[string]interface{}  "Document has no content"
// @Router       /api/v1/documents/{id}/content [get]
// DownloadContentHandler streams a document's content.
func (h *Handlers) DownloadContentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := h.load(c)
		if !ok {
			return
		}
		if doc.StorageKey == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document has no content"})
			return
		}

		// The DOWNLOAD record is written before any bytes are streamed: once
		// the response body starts, a failed audit write could no longer stop
		// the disclosure it was meant to document.
		state := map[string]interface{}{"revision": doc.Revision}
		if doc.ContentHash != nil {
			state["content_hash"] = *doc.ContentHash
		}
		if err := h.recordDownload(c, doc.ID, state); err != nil {
			slog.Error("failed to audit download", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record download"})
			return
		}

		reader, err := h.store.Download(c.Request.Context(), *doc.StorageKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve content"})
			return
		}
		defer reader.Close()

		telemetry.DocumentDownloadsTotal.WithLabelValues(doc.Status).Inc()

		contentType := "application/octet-stream"
		if doc.ContentType != nil && *doc.ContentType != "" {
			contentType = *doc.ContentType
		}
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", contentFilename(doc)))
		if doc.ContentHash != nil {
			c.Header("X-Checksum-Sha256", *doc.ContentHash)
		}
		c.Status(http.StatusOK)

		if _, err := io.Copy(c.Writer, reader); err != nil {
			slog.Warn("content stream interrupted", "document_id", doc.ID, "error", err)
		}
	}
}

// recordDownload writes the DOWNLOAD audit record outside any transaction;
// downloads mutate nothing, so there is no business write to pair with.
func (h *Handlers) recordDownload(c *gin.Context, docID string, state map[string]interface{}) error {
	actor := middleware.ActorFromContext(c)
	_, err := h.auditSvc.Record(c.Request.Context(), audit.Entry{
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Action:          audit.ActionDownload,
		EntityTable:     "documents",
		EntityID:        &docID,
		NewState:        state,
		ClientIP:        actor.ClientIP,
		ClientUserAgent: actor.UserAgent,
		SessionID:       actor.SessionID,
		Module:          moduleEDMS,
	})
	return err
}

// contentFilename derives a download filename from the document number and
// revision so saved files sort sensibly on an auditor's machine.
func contentFilename(doc *models.Document) string {
	return fmt.Sprintf("%s_rev%d", doc.DocumentNo, doc.Revision)
}
