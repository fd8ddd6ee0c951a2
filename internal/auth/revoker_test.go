package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRevoker(t *testing.T) {
	r := NewMemoryRevoker()
	ctx := context.Background()

	revoked, err := r.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("fresh session should not be revoked")
	}

	if err := r.Revoke(ctx, "sess-1", time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err = r.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("revoked session should report revoked")
	}
}

func TestMemoryRevoker_ExpiryLapses(t *testing.T) {
	r := NewMemoryRevoker()
	ctx := context.Background()

	if err := r.Revoke(ctx, "sess-2", -time.Second); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, "sess-2")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("revocation past its ttl should no longer apply")
	}
}

func TestMemoryRevoker_SweepDropsExpired(t *testing.T) {
	r := NewMemoryRevoker()
	ctx := context.Background()

	if err := r.Revoke(ctx, "old", -time.Second); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// The next revoke sweeps expired entries.
	if err := r.Revoke(ctx, "new", time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	r.mu.RLock()
	_, oldPresent := r.revoked["old"]
	r.mu.RUnlock()
	if oldPresent {
		t.Error("expired revocation should have been swept")
	}
}
