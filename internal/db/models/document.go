// Package models - document.go defines the Document model for the EDMS subsystem:
// controlled documents with a status lifecycle and a content-addressed file in
// the storage backend.
package models

import "time"

// Document statuses. Transitions are plain enum reassignment performed by the
// EDMS handlers; every transition is audited.
const (
	DocumentStatusDraft     = "DRAFT"
	DocumentStatusInReview  = "IN_REVIEW"
	DocumentStatusApproved  = "APPROVED"
	DocumentStatusRejected  = "REJECTED"
	DocumentStatusObsolete  = "OBSOLETE"
)

// Document represents a controlled document in the EDMS module.
type Document struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	DocumentNo  string    `db:"document_no"`
	Revision    int       `db:"revision"`
	Status      string    `db:"status"`
	OwnerID     int64     `db:"owner_id"`
	StorageKey  *string   `db:"storage_key"`  // object key in the storage backend, nil until content uploaded
	ContentHash *string   `db:"content_hash"` // SHA-256 of the stored file
	ContentType *string   `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Snapshot returns the document's audited fields as a structured state map for
// use as an audit record's previous/new state.
func (d *Document) Snapshot() map[string]interface{} {
	s := map[string]interface{}{
		"title":       d.Title,
		"document_no": d.DocumentNo,
		"revision":    d.Revision,
		"status":      d.Status,
		"owner_id":    d.OwnerID,
	}
	if d.ContentHash != nil {
		s["content_hash"] = *d.ContentHash
	}
	return s
}
