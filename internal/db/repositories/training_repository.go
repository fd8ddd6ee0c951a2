// training_repository.go implements TrainingRepository for the TRM subsystem.
// As with documents, writes run on a caller-supplied execer so assignment and
// completion updates commit atomically with their audit records.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

// TrainingRepository handles training record database operations.
type TrainingRepository struct {
	db *sqlx.DB
}

// NewTrainingRepository creates a new TrainingRepository.
func NewTrainingRepository(db *sqlx.DB) *TrainingRepository {
	return &TrainingRepository{db: db}
}

// Begin starts a transaction for callers that pair a training mutation with an
// audit record insert.
func (r *TrainingRepository) Begin(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// Create inserts a new training assignment on the given execer.
func (r *TrainingRepository) Create(ctx context.Context, execer sqlx.ExtContext, rec *models.TrainingRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO training_records (id, user_id, course_name, status, due_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := execer.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.CourseName,
		rec.Status,
		rec.DueAt,
		rec.CompletedAt,
		rec.CreatedAt,
	)
	return err
}

// Get retrieves a training record by id. Returns (nil, nil) when none exists.
func (r *TrainingRepository) Get(ctx context.Context, id string) (*models.TrainingRecord, error) {
	query := `
		SELECT id, user_id, course_name, status, due_at, completed_at, created_at
		FROM training_records
		WHERE id = $1
	`

	rec := &models.TrainingRecord{}
	err := r.db.GetContext(ctx, rec, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByUser retrieves a user's training records, newest first.
func (r *TrainingRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.TrainingRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_records WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, course_name, status, due_at, completed_at, created_at
		FROM training_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	records := make([]*models.TrainingRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, userID, limit, offset); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// SetStatus updates a record's status and completion time on the given execer.
func (r *TrainingRepository) SetStatus(ctx context.Context, execer sqlx.ExtContext, id, status string, completedAt *time.Time) error {
	query := `UPDATE training_records SET status = $2, completed_at = $3 WHERE id = $1`
	_, err := execer.ExecContext(ctx, query, id, status, completedAt)
	return err
}
