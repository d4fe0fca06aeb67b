package attest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayRegistry records proof nonces. Claim returns true the first time a
// nonce is seen within ttl and false afterwards.
type ReplayRegistry interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryReplay is a process-local registry.
type MemoryReplay struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	Clock func() time.Time
}

func NewMemoryReplay() *MemoryReplay {
	return &MemoryReplay{seen: make(map[string]time.Time)}
}

func (m *MemoryReplay) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now
	if m.Clock != nil {
		now = m.Clock
	}
	t := now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]time.Time)
	}
	for n, exp := range m.seen {
		if !t.Before(exp) {
			delete(m.seen, n)
		}
	}
	if _, ok := m.seen[nonce]; ok {
		return false, nil
	}
	m.seen[nonce] = t.Add(ttl)
	return true, nil
}

// Len reports the number of live nonces.
func (m *MemoryReplay) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type setNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisReplay shares nonce claims between verifier processes via SETNX.
type RedisReplay struct {
	client setNXClient
	prefix string
}

// NewRedisReplay wraps a go-redis client (*redis.Client, *redis.ClusterClient, ...).
func NewRedisReplay(client setNXClient, prefix string) *RedisReplay {
	if prefix == "" {
		prefix = "walmarket:nonce:"
	}
	return &RedisReplay{client: client, prefix: prefix}
}

func (r *RedisReplay) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+nonce, 1, ttl).Result()
}
