// Package models - audit_record.go defines the AuditRecord model, the append-only
// record of one regulated action: who did it, what was affected, the before/after
// state snapshots, request context, and the integrity hash computed at write time.
package models

import "time"

// AuditRecord represents one entry in the audit trail. Records are immutable
// once persisted: no code path in this repository updates or deletes a row in
// audit_records.
type AuditRecord struct {
	ID              int64
	RecordedAt      time.Time // UTC, assigned by the writer at insert time, never client-supplied
	ActorID         *int64    // nil only for system actions (IsSystemAction = true)
	ActorName       string
	Action          string // one of the audit.Action enum values
	EntityTable     string
	EntityID        *string // nil for actions with no single record (e.g. LOGIN)
	PreviousState   map[string]interface{}
	NewState        map[string]interface{}
	ClientIP        *string
	ClientUserAgent *string
	SessionID       *string
	Module          string // logical subsystem: EDMS, QRM, TRM, LIMS, SYSTEM
	Reason          *string
	IntegrityHash   string // hex SHA-256 over the canonical fields, see internal/audit
	IsSystemAction  bool
}
