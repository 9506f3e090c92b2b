package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records refresh token ids that must no longer be accepted.
type Denylist interface {
	// Revoke denylists jti until the given time. It reports true only for
	// the call that revoked it first, which makes rotation single-use.
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)
}

// RedisDenylist keeps one key per revoked jti with a TTL matching the
// token's remaining lifetime.
type RedisDenylist struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisDenylist(client redis.UniversalClient, prefix string) *RedisDenylist {
	if prefix == "" {
		prefix = "rtd"
	}
	return &RedisDenylist{redis: client, prefix: prefix, now: time.Now}
}

func (d *RedisDenylist) key(jti string) string {
	return d.prefix + ":" + jti
}

func (d *RedisDenylist) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(d.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := d.redis.SetNX(ctx, d.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("denylist set: %w", err)
	}
	return ok, nil
}

// MemoryDenylist is the single-process fallback used when REDIS_URL is unset.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist(now func() time.Time) *MemoryDenylist {
	if now == nil {
		now = time.Now
	}
	return &MemoryDenylist{entries: make(map[string]time.Time), now: now}
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, until time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, k)
		}
	}
	if exp, ok := d.entries[jti]; ok && now.Before(exp) {
		return false, nil
	}
	d.entries[jti] = until
	return true, nil
}
