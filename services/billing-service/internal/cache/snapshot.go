// Package cache keeps entitlement snapshots in Redis so the gRPC and HTTP
// read paths skip Postgres between usage changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/redis/go-redis/v9"
)

type SnapshotCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSnapshotCache(rdb *redis.Client, prefix string, ttl time.Duration) *SnapshotCache {
	if prefix == "" {
		prefix = "billing"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *SnapshotCache) key(tenantID string) string {
	return c.prefix + ":entitlements:" + tenantID
}

func (c *SnapshotCache) Get(ctx context.Context, tenantID string) (usage.Snapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return usage.Snapshot{}, false, nil
	}
	if err != nil {
		return usage.Snapshot{}, false, err
	}
	var snap usage.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return usage.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, snap usage.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(snap.TenantID), raw, c.ttl).Err()
}

func (c *SnapshotCache) Delete(ctx context.Context, tenantID string) error {
	return c.rdb.Del(ctx, c.key(tenantID)).Err()
}
