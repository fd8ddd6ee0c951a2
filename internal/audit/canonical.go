// canonical.go builds the canonical representation of an audit record's hashed
// fields and computes the SHA-256 integrity hash over it. The writer and the
// verifier share this single code path so a record can always be re-verified
// from its stored column values.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

// fieldEscaper makes the field delimiter unambiguous: a literal "|" inside a
// field can never collide with the join separator, so moving bytes across a
// field boundary always changes the canonical form.
var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// canonicalState renders a structured state snapshot deterministically.
// encoding/json marshals map keys in sorted order at every nesting level, so
// two maps with the same contents always produce identical bytes. A nil map
// renders as the empty string, distinguishing "no snapshot" from "{}".
func canonicalState(state map[string]interface{}) (string, error) {
	if state == nil {
		return "", nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("canonicalize state: %w", err)
	}
	return string(b), nil
}

// ComputeHash returns the hex-encoded SHA-256 integrity hash over the canonical
// fields {timestamp, actorId, action, entityTable, entityId, previousState,
// newState}. The timestamp MUST be the exact value that is persisted: the
// writer picks it once and passes the same instant here and to the insert, so
// recomputation from the stored row always matches.
func ComputeHash(recordedAt time.Time, actorID *int64, action Action, entityTable string, entityID *string, previous, next map[string]interface{}) (string, error) {
	prevCanonical, err := canonicalState(previous)
	if err != nil {
		return "", err
	}
	nextCanonical, err := canonicalState(next)
	if err != nil {
		return "", err
	}

	actor := ""
	if actorID != nil {
		actor = strconv.FormatInt(*actorID, 10)
	}
	entity := ""
	if entityID != nil {
		entity = *entityID
	}

	fields := []string{
		recordedAt.UTC().Format(time.RFC3339Nano),
		actor,
		string(action),
		entityTable,
		entity,
		prevCanonical,
		nextCanonical,
	}
	for i, f := range fields {
		fields[i] = fieldEscaper.Replace(f)
	}
	canonical := strings.Join(fields, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// HashRecord recomputes the integrity hash of a persisted record from its
// stored field values. Used by the verifier; never writes anything back.
func HashRecord(rec *models.AuditRecord) (string, error) {
	return ComputeHash(rec.RecordedAt, rec.ActorID, Action(rec.Action),
		rec.EntityTable, rec.EntityID, rec.PreviousState, rec.NewState)
}
