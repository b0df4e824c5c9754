package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paylite/session-server/internal/model"
	redisclient "github.com/paylite/session-server/internal/redis"
)

// Snapshot is the non-sensitive subset of the auth state written to
// durable storage. It must never contain password or token material.
type Snapshot struct {
	User               *model.User `json:"user,omitempty"`
	IsAuthenticated    bool        `json:"isAuthenticated"`
	LastLoginTime      int64       `json:"lastLoginTime"` // unix ms, 0 when unset
	SessionInitialized bool        `json:"sessionInitialized"`
}

// Persister owns the durable copy of the auth snapshot. The store is the
// single writer; readers may exist in other processes.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns (nil, nil) when no snapshot exists. A corrupt record
	// is reported as an error so the caller can fail open.
	Load(ctx context.Context) (*Snapshot, error)
	Purge(ctx context.Context) error
}

// RedisPersister keeps the snapshot as one JSON record under a fixed key.
type RedisPersister struct {
	client *redisclient.Client
	key    string
}

func NewRedisPersister(client *redisclient.Client, key string) *RedisPersister {
	return &RedisPersister{client: client, key: key}
}

func (p *RedisPersister) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal auth snapshot: %w", err)
	}
	return p.client.Set(ctx, p.key, data, 0).Err()
}

func (p *RedisPersister) Load(ctx context.Context) (*Snapshot, error) {
	val, err := p.client.Get(ctx, p.key).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal auth snapshot: %w", err)
	}
	return &snap, nil
}

func (p *RedisPersister) Purge(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}

// MemoryPersister is the in-process implementation used in tests and
// single-node deployments without redis.
type MemoryPersister struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Save(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := snap
	p.snap = &copied
	return nil
}

func (p *MemoryPersister) Load(_ context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap == nil {
		return nil, nil
	}
	copied := *p.snap
	return &copied, nil
}

func (p *MemoryPersister) Purge(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = nil
	return nil
}
