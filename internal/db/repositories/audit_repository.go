// audit_repository.go implements AuditRepository, the only code that touches the
// audit_records table. The table is append-only: this repository exposes insert
// and read operations and nothing else — no UPDATE or DELETE statement against
// audit_records exists anywhere in the codebase.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

// AuditRepository handles audit record database operations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Execer exposes the underlying connection as an sqlx.ExtContext for callers
// that record audit entries outside any explicit transaction.
func (r *AuditRepository) Execer() sqlx.ExtContext {
	return r.db
}

// AuditFilters contains optional filters for querying audit records. All set
// filters are ANDed together.
type AuditFilters struct {
	EntityTable *string
	EntityID    *string
	ActorID     *int64
	Action      *string
	Module      *string
	StartDate   *time.Time
	EndDate     *time.Time
}

const auditColumns = `id, recorded_at, actor_id, actor_name, action, entity_table, entity_id,
		previous_state, new_state, client_ip, client_user_agent, session_id,
		module, reason, integrity_hash, is_system_action`

// Insert appends one audit record. It runs on the supplied execer so the
// insert can join the caller's transaction: when a business operation and its
// audit record share a transaction, either both commit or both roll back.
// The store-assigned id is written back into rec.
func (r *AuditRepository) Insert(ctx context.Context, execer sqlx.ExtContext, rec *models.AuditRecord) error {
	prevJSON, err := marshalState(rec.PreviousState)
	if err != nil {
		return fmt.Errorf("marshal previous state: %w", err)
	}
	newJSON, err := marshalState(rec.NewState)
	if err != nil {
		return fmt.Errorf("marshal new state: %w", err)
	}

	query := `
		INSERT INTO audit_records (recorded_at, actor_id, actor_name, action, entity_table, entity_id,
			previous_state, new_state, client_ip, client_user_agent, session_id,
			module, reason, integrity_hash, is_system_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	row := execer.QueryRowxContext(ctx, query,
		rec.RecordedAt,
		rec.ActorID,
		rec.ActorName,
		rec.Action,
		rec.EntityTable,
		rec.EntityID,
		prevJSON,
		newJSON,
		rec.ClientIP,
		rec.ClientUserAgent,
		rec.SessionID,
		rec.Module,
		rec.Reason,
		rec.IntegrityHash,
		rec.IsSystemAction,
	)
	if err := row.Scan(&rec.ID); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List retrieves audit records matching the filters, newest first. Ordering is
// recorded_at DESC with id DESC as the tie-break so that records sharing a
// timestamp paginate stably across repeated calls. Returns the page plus the
// total match count.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditRecord, int, error) {
	where, args := buildAuditWhere(filters)

	countQuery := `SELECT COUNT(*) FROM audit_records` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT `+auditColumns+` FROM audit_records%s ORDER BY recorded_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AuditRecord, 0)
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// Get retrieves a single audit record by id. Returns (nil, nil) when no record
// with that id exists.
func (r *AuditRepository) Get(ctx context.Context, id int64) (*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id = $1`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanAuditRecord(rows)
}

// buildAuditWhere assembles the WHERE clause and positional args for the
// filter set. The end date is exclusive so windows compose as [start, end).
func buildAuditWhere(filters AuditFilters) (string, []interface{}) {
	where := ""
	args := make([]interface{}, 0)
	add := func(clause string, value interface{}) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		args = append(args, value)
		where += fmt.Sprintf(clause, len(args))
	}

	if filters.EntityTable != nil {
		add("entity_table = $%d", *filters.EntityTable)
	}
	if filters.EntityID != nil {
		add("entity_id = $%d", *filters.EntityID)
	}
	if filters.ActorID != nil {
		add("actor_id = $%d", *filters.ActorID)
	}
	if filters.Action != nil {
		add("action = $%d", *filters.Action)
	}
	if filters.Module != nil {
		add("module = $%d", *filters.Module)
	}
	if filters.StartDate != nil {
		add("recorded_at >= $%d", *filters.StartDate)
	}
	if filters.EndDate != nil {
		add("recorded_at < $%d", *filters.EndDate)
	}
	return where, args
}

// MaxID returns the highest audit record id, or 0 when the table is empty.
// The exporter uses it to seed its watermark at startup.
func (r *AuditRepository) MaxID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM audit_records`).Scan(&id); err != nil {
		return 0, fmt.Errorf("query max audit id: %w", err)
	}
	return id.Int64, nil
}

// ListSince returns up to limit records with id greater than afterID, oldest
// first. The exporter tails the table with this: because ids are assigned by
// an append-only sequence, everything returned here has been committed.
func (r *AuditRepository) ListSince(ctx context.Context, afterID int64, limit int) ([]*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id > $1 ORDER BY id ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records since id: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AuditRecord, 0)
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func marshalState(state map[string]interface{}) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}

// rowScanner covers both *sql.Rows and *sql.Row scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(row rowScanner) (*models.AuditRecord, error) {
	rec := &models.AuditRecord{}
	var prevJSON, newJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.RecordedAt,
		&rec.ActorID,
		&rec.ActorName,
		&rec.Action,
		&rec.EntityTable,
		&rec.EntityID,
		&prevJSON,
		&newJSON,
		&rec.ClientIP,
		&rec.ClientUserAgent,
		&rec.SessionID,
		&rec.Module,
		&rec.Reason,
		&rec.IntegrityHash,
		&rec.IsSystemAction,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	if prevJSON != nil {
		if err := json.Unmarshal(prevJSON, &rec.PreviousState); err != nil {
			return nil, fmt.Errorf("unmarshal previous state: %w", err)
		}
	}
	if newJSON != nil {
		if err := json.Unmarshal(newJSON, &rec.NewState); err != nil {
			return nil, fmt.Errorf("unmarshal new state: %w", err)
		}
	}
	return rec, nil
}
