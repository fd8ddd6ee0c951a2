// Package models - user.go defines the User model used for login and actor
// identity on audit records.
package models

import "time"

// User represents an account that can authenticate and perform audited actions.
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	FullName     string    `db:"full_name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}
