// service.go implements the audit writer and reader. The writer is fail-closed:
// it either persists a fully hashed record or returns an error, and when given
// the caller's transaction the enclosing business operation rolls back with it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
	"github.com/jinkaiteo/qms-backend/internal/telemetry"
)

// Validation and query-boundary errors.
var (
	ErrUnknownAction    = errors.New("unknown audit action")
	ErrMissingActor     = errors.New("actor name is required")
	ErrMissingEntity    = errors.New("entity table is required")
	ErrAnonymousActor   = errors.New("nil actor id requires a system action")
	ErrInvalidDateRange = errors.New("start date must be before end date")
)

// DefaultQueryLimit caps reader pages when the caller does not supply a limit.
const DefaultQueryLimit = 1000

// ModuleSystem is the module tag applied when the caller supplies none.
const ModuleSystem = "SYSTEM"

// Entry carries everything a caller supplies when recording an action. The
// timestamp and integrity hash are never part of the entry: the writer assigns
// both so they cannot diverge.
type Entry struct {
	ActorID         *int64
	ActorName       string
	Action          Action
	EntityTable     string
	EntityID        *string
	PreviousState   map[string]interface{}
	NewState        map[string]interface{}
	ClientIP        *string
	ClientUserAgent *string
	SessionID       *string
	Module          string
	Reason          *string
	IsSystemAction  bool
}

// Filters is the reader's filter set. Action is validated against the enum
// before any SQL runs.
type Filters struct {
	EntityTable string
	EntityID    string
	ActorID     *int64
	Action      string
	Module      string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Service is the audit trail's single entry point for writes and reads. It is
// stateless apart from its repository handle; constructed once at startup and
// injected into every handler that records actions.
type Service struct {
	repo *repositories.AuditRepository
	now  func() time.Time
}

// NewService creates an audit Service over the given repository.
func NewService(repo *repositories.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record validates the entry, stamps it, hashes it, and appends it outside any
// caller transaction. Use RecordTx when the audit record must commit or roll
// back together with a business operation.
func (s *Service) Record(ctx context.Context, entry Entry) (*models.AuditRecord, error) {
	return s.RecordTx(ctx, s.repo.Execer(), entry)
}

// RecordTx appends one audit record on the supplied execer (typically the
// caller's *sqlx.Tx). The timestamp is chosen exactly once, in UTC truncated to
// microseconds to match Postgres column precision, and that same instant feeds
// both the stored column and the integrity hash — recomputing the hash from the
// stored row must reproduce the stored digest.
func (s *Service) RecordTx(ctx context.Context, execer sqlx.ExtContext, entry Entry) (*models.AuditRecord, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	module := entry.Module
	if module == "" {
		module = ModuleSystem
	}

	recordedAt := s.now().UTC().Truncate(time.Microsecond)
	hash, err := ComputeHash(recordedAt, entry.ActorID, entry.Action,
		entry.EntityTable, entry.EntityID, entry.PreviousState, entry.NewState)
	if err != nil {
		return nil, fmt.Errorf("compute integrity hash: %w", err)
	}

	rec := &models.AuditRecord{
		RecordedAt:      recordedAt,
		ActorID:         entry.ActorID,
		ActorName:       entry.ActorName,
		Action:          string(entry.Action),
		EntityTable:     entry.EntityTable,
		EntityID:        entry.EntityID,
		PreviousState:   entry.PreviousState,
		NewState:        entry.NewState,
		ClientIP:        entry.ClientIP,
		ClientUserAgent: entry.ClientUserAgent,
		SessionID:       entry.SessionID,
		Module:          module,
		Reason:          entry.Reason,
		IntegrityHash:   hash,
		IsSystemAction:  entry.IsSystemAction,
	}

	// No retries here: a failed insert propagates so the caller's transaction
	// rolls back the business operation the record would have documented.
	if err := s.repo.Insert(ctx, execer, rec); err != nil {
		return nil, err
	}

	telemetry.AuditRecordsWrittenTotal.WithLabelValues(module, string(entry.Action)).Inc()
	return rec, nil
}

// Query returns audit records matching the filters, newest first with id as
// the tie-break, plus the total match count. A zero limit falls back to
// DefaultQueryLimit.
func (s *Service) Query(ctx context.Context, filters Filters, limit, offset int) ([]*models.AuditRecord, int, error) {
	repoFilters, err := filters.toRepo()
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, repoFilters, limit, offset)
}

// Get returns a single record by id, or (nil, nil) when absent.
func (s *Service) Get(ctx context.Context, id int64) (*models.AuditRecord, error) {
	return s.repo.Get(ctx, id)
}

func (e *Entry) validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
	}
	if e.EntityTable == "" {
		return ErrMissingEntity
	}
	if e.ActorName == "" {
		return ErrMissingActor
	}
	if e.ActorID == nil && !e.IsSystemAction {
		return ErrAnonymousActor
	}
	return nil
}

func (f Filters) toRepo() (repositories.AuditFilters, error) {
	var repoFilters repositories.AuditFilters
	if f.Action != "" {
		if _, err := ParseAction(f.Action); err != nil {
			return repoFilters, err
		}
		repoFilters.Action = &f.Action
	}
	if f.EntityTable != "" {
		repoFilters.EntityTable = &f.EntityTable
	}
	if f.EntityID != "" {
		repoFilters.EntityID = &f.EntityID
	}
	if f.ActorID != nil {
		repoFilters.ActorID = f.ActorID
	}
	if f.Module != "" {
		repoFilters.Module = &f.Module
	}
	if f.StartDate != nil && f.EndDate != nil && !f.StartDate.Before(*f.EndDate) {
		return repoFilters, ErrInvalidDateRange
	}
	repoFilters.StartDate = f.StartDate
	repoFilters.EndDate = f.EndDate
	return repoFilters, nil
}
