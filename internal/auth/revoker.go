// revoker.go implements token revocation for logout. A JWT stays
// cryptographically valid until it expires, so logout is recorded as a
// revocation of the token's session id; the auth middleware rejects revoked
// sessions on every request.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks revoked session ids until their tokens would have expired
// anyway.
type Revoker interface {
	// Revoke marks a session id as revoked for the given remaining lifetime.
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	// IsRevoked reports whether a session id has been revoked.
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// MemoryRevoker is the in-process default. Revocations do not survive a
// restart, which is acceptable for single-instance deployments because tokens
// are short-lived; multi-instance deployments use RedisRevoker.
type MemoryRevoker struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryRevoker creates an in-memory revoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time)}
}

// Revoke marks the session as revoked until now+ttl.
func (m *MemoryRevoker) Revoke(_ context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[sessionID] = time.Now().Add(ttl)
	m.sweepLocked()
	return nil
}

// IsRevoked reports whether the session is currently revoked.
func (m *MemoryRevoker) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.revoked[sessionID]
	return ok && time.Now().Before(until), nil
}

// sweepLocked drops expired entries. Called with the write lock held, on every
// revoke, which bounds the map to the number of active-lifetime revocations.
func (m *MemoryRevoker) sweepLocked() {
	now := time.Now()
	for id, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, id)
		}
	}
}

// RedisRevoker stores revocations in Redis with a TTL, sharing them across
// instances. Keys expire on their own, so there is nothing to clean up.
type RedisRevoker struct {
	client *redis.Client
}

// NewRedisRevoker creates a revoker over the given Redis client, verifying
// connectivity up front so a misconfigured address fails at startup rather
// than on the first logout.
func NewRedisRevoker(ctx context.Context, client *redis.Client) (*RedisRevoker, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisRevoker{client: client}, nil
}

func revocationKey(sessionID string) string {
	return "qms:revoked:" + sessionID
}

// Revoke marks the session as revoked for ttl.
func (r *RedisRevoker) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(sessionID), "1", ttl).Err()
}

// IsRevoked reports whether the session is currently revoked.
func (r *RedisRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
