// document_repository.go implements DocumentRepository for the EDMS subsystem.
// Write operations run on a caller-supplied execer so a document mutation and
// its audit record can share one transaction.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

// DocumentRepository handles document database operations.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Begin starts a transaction for callers that pair a document mutation with an
// audit record insert.
func (r *DocumentRepository) Begin(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// Create inserts a new document on the given execer.
func (r *DocumentRepository) Create(ctx context.Context, execer sqlx.ExtContext, doc *models.Document) error {
	doc.ID = uuid.New().String()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (id, title, document_no, revision, status, owner_id,
			storage_key, content_hash, content_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := execer.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.DocumentNo,
		doc.Revision,
		doc.Status,
		doc.OwnerID,
		doc.StorageKey,
		doc.ContentHash,
		doc.ContentType,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return err
}

// Get retrieves a document by id. Returns (nil, nil) when no document exists.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id, title, document_no, revision, status, owner_id,
			storage_key, content_hash, content_type, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	doc := &models.Document{}
	err := r.db.GetContext(ctx, doc, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List retrieves a paginated list of documents, newest first, optionally
// filtered by status.
func (r *DocumentRepository) List(ctx context.Context, status *string, limit, offset int) ([]*models.Document, int, error) {
	where := ""
	countArgs := []interface{}{}
	if status != nil {
		where = " WHERE status = $1"
		countArgs = append(countArgs, *status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, title, document_no, revision, status, owner_id,
			storage_key, content_hash, content_type, created_at, updated_at
		FROM documents` + where + `
		ORDER BY created_at DESC`
	args := countArgs
	if status != nil {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, offset)

	docs := make([]*models.Document, 0)
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Update persists title, revision, status and content fields on the given execer.
func (r *DocumentRepository) Update(ctx context.Context, execer sqlx.ExtContext, doc *models.Document) error {
	doc.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE documents
		SET title = $2, revision = $3, status = $4,
			storage_key = $5, content_hash = $6, content_type = $7, updated_at = $8
		WHERE id = $1
	`

	_, err := execer.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Revision,
		doc.Status,
		doc.StorageKey,
		doc.ContentHash,
		doc.ContentType,
		doc.UpdatedAt,
	)
	return err
}

// Delete removes a document on the given execer.
func (r *DocumentRepository) Delete(ctx context.Context, execer sqlx.ExtContext, id string) error {
	_, err := execer.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}
