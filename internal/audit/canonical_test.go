package audit

import (
	"testing"
	"time"

	"github.com/jinkaiteo/qms-backend/internal/db/models"
)

func TestComputeHashDeterministic(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	actor := int64(7)
	entity := "doc-42"

	// Maps with identical contents must hash identically regardless of how
	// they were built up.
	prevA := map[string]interface{}{"status": "DRAFT", "revision": 1, "meta": map[string]interface{}{"b": 2, "a": 1}}
	prevB := map[string]interface{}{}
	prevB["meta"] = map[string]interface{}{"a": 1, "b": 2}
	prevB["revision"] = 1
	prevB["status"] = "DRAFT"

	h1, err := ComputeHash(at, &actor, ActionUpdate, "documents", &entity, prevA, nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	h2, err := ComputeHash(at, &actor, ActionUpdate, "documents", &entity, prevB, nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ for equal states:\n%s\n%s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestComputeHashNilVsEmptyState(t *testing.T) {
	at := time.Now().UTC()
	hNil, err := ComputeHash(at, nil, ActionCreate, "documents", nil, nil, nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	hEmpty, err := ComputeHash(at, nil, ActionCreate, "documents", nil, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if hNil == hEmpty {
		t.Error("nil state and empty state should hash differently")
	}
}

func TestComputeHashFieldSensitivity(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	actor := int64(7)
	entity := "doc-42"
	base, err := ComputeHash(at, &actor, ActionUpdate, "documents", &entity, nil, nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	otherActor := int64(8)
	otherEntity := "doc-43"
	variants := []struct {
		name string
		hash func() (string, error)
	}{
		{"timestamp", func() (string, error) {
			return ComputeHash(at.Add(time.Microsecond), &actor, ActionUpdate, "documents", &entity, nil, nil)
		}},
		{"actor", func() (string, error) {
			return ComputeHash(at, &otherActor, ActionUpdate, "documents", &entity, nil, nil)
		}},
		{"nil actor", func() (string, error) {
			return ComputeHash(at, nil, ActionUpdate, "documents", &entity, nil, nil)
		}},
		{"action", func() (string, error) {
			return ComputeHash(at, &actor, ActionDelete, "documents", &entity, nil, nil)
		}},
		{"entity table", func() (string, error) {
			return ComputeHash(at, &actor, ActionUpdate, "training_records", &entity, nil, nil)
		}},
		{"entity id", func() (string, error) {
			return ComputeHash(at, &actor, ActionUpdate, "documents", &otherEntity, nil, nil)
		}},
		{"new state", func() (string, error) {
			return ComputeHash(at, &actor, ActionUpdate, "documents", &entity, nil, map[string]interface{}{"k": "v"})
		}},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			h, err := v.hash()
			if err != nil {
				t.Fatalf("ComputeHash: %v", err)
			}
			if h == base {
				t.Error("variant hash equals base hash, field not covered")
			}
		})
	}
}

func TestComputeHashFieldBoundaries(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	actor := int64(7)

	// A delimiter inside a field value must not let bytes shift across the
	// field boundary unnoticed.
	shifted := []struct {
		name        string
		tableA, idA string
		tableB, idB string
	}{
		{"pipe moves between fields", "doc|x", "y", "doc", "x|y"},
		{"pipe absorbs a field", "doc", "x|y", "doc|x|y", ""},
		{"escape char at the seam", `doc\`, "x", "doc", `\x`},
	}

	for _, s := range shifted {
		t.Run(s.name, func(t *testing.T) {
			idA, idB := s.idA, s.idB
			hA, err := ComputeHash(at, &actor, ActionUpdate, s.tableA, &idA, nil, nil)
			if err != nil {
				t.Fatalf("ComputeHash: %v", err)
			}
			hB, err := ComputeHash(at, &actor, ActionUpdate, s.tableB, &idB, nil, nil)
			if err != nil {
				t.Fatalf("ComputeHash: %v", err)
			}
			if hA == hB {
				t.Errorf("boundary-shifted fields hash identically: %s", hA)
			}
		})
	}
}

func TestHashRecordRoundTrip(t *testing.T) {
	actor := int64(7)
	entity := "doc-42"
	rec := &models.AuditRecord{
		RecordedAt:    time.Now().UTC().Truncate(time.Microsecond),
		ActorID:       &actor,
		Action:        string(ActionApprove),
		EntityTable:   "documents",
		EntityID:      &entity,
		PreviousState: map[string]interface{}{"status": "IN_REVIEW"},
		NewState:      map[string]interface{}{"status": "APPROVED"},
	}

	hash, err := HashRecord(rec)
	if err != nil {
		t.Fatalf("HashRecord: %v", err)
	}
	rec.IntegrityHash = hash

	again, err := HashRecord(rec)
	if err != nil {
		t.Fatalf("HashRecord: %v", err)
	}
	if again != rec.IntegrityHash {
		t.Errorf("recomputed hash %s != stored %s", again, rec.IntegrityHash)
	}

	// Tampering with any hashed field must break verification.
	rec.ActorID = nil
	tampered, err := HashRecord(rec)
	if err != nil {
		t.Fatalf("HashRecord: %v", err)
	}
	if tampered == rec.IntegrityHash {
		t.Error("tampered record still matches stored hash")
	}
}
