// Package models - training_record.go defines the TrainingRecord model for the
// TRM subsystem: assignments of training items to users with completion tracking.
package models

import "time"

// Training record statuses.
const (
	TrainingStatusAssigned  = "ASSIGNED"
	TrainingStatusCompleted = "COMPLETED"
	TrainingStatusOverdue   = "OVERDUE"
)

// TrainingRecord represents one training assignment in the TRM module.
type TrainingRecord struct {
	ID          string     `db:"id"`
	UserID      int64      `db:"user_id"`
	CourseName  string     `db:"course_name"`
	Status      string     `db:"status"`
	DueAt       *time.Time `db:"due_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Snapshot returns the record's audited fields as a structured state map.
func (t *TrainingRecord) Snapshot() map[string]interface{} {
	s := map[string]interface{}{
		"user_id":     t.UserID,
		"course_name": t.CourseName,
		"status":      t.Status,
	}
	if t.CompletedAt != nil {
		s["completed_at"] = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return s
}
