package usage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	subs     map[string]storage.Subscription
	counters map[string]int
	addons   map[string]int
	events   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:     map[string]storage.Subscription{},
		counters: map[string]int{},
		addons:   map[string]int{},
		events:   map[string]bool{},
	}
}

func (f *fakeStore) GetSubscription(_ context.Context, tenantID string) (storage.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return storage.Subscription{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) Usage(_ context.Context, tenantID string, periods ...string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, k := range entitlements.Kinds {
		for _, p := range periods {
			if v, ok := f.counters[tenantID+"/"+string(k)+"/"+p]; ok {
				out[string(k)] = v
			}
		}
	}
	return out, nil
}

func (f *fakeStore) AddOnOrders(_ context.Context, tenantID, period string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addons[tenantID+"/"+period], nil
}

func (f *fakeStore) AdjustUsage(_ context.Context, tenantID, kind, period string, delta, limit int, force bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenantID + "/" + kind + "/" + period
	used := f.counters[key]
	if delta > 0 && !force && limit >= 0 && used+delta > limit {
		return used, storage.ErrLimitReached
	}
	f.counters[key] = max(0, used+delta)
	return f.counters[key], nil
}

func (f *fakeStore) CountEvent(_ context.Context, tenantID, kind, period, eventID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eventID != "" {
		if f.events[eventID] {
			return false, nil
		}
		f.events[eventID] = true
	}
	f.counters[tenantID+"/"+kind+"/"+period]++
	return true, nil
}

type mapCache struct {
	mu      sync.Mutex
	snaps   map[string]Snapshot
	deletes int
}

func (c *mapCache) Get(_ context.Context, tenantID string) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[tenantID]
	return s, ok, nil
}

func (c *mapCache) Set(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.TenantID] = snap
	return nil
}

func (c *mapCache) Delete(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, tenantID)
	c.deletes++
	return nil
}

const tenant = "pizzaria-centro"

var fixedNow = time.Date(2026, time.October, 19, 15, 0, 0, 0, time.UTC)

func newTestService(store Store, cache Cache) *Service {
	return NewService(store, entitlements.DefaultCatalog(), cache, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Now: func() time.Time { return fixedNow },
	})
}

func TestSnapshotDefaultsToFreeWithoutSubscription(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)

	snap, err := svc.Snapshot(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, "free", snap.Plan)
	assert.Equal(t, "none", snap.Status)
	assert.Equal(t, "2026-10", snap.Period)
	require.NotNil(t, snap.Limits)
	assert.Equal(t, 50, snap.Limits.OrdersPerMonth)
	assert.Len(t, snap.Checks, len(entitlements.Kinds))
}

func TestSnapshotCanceledSubscriptionFallsBackToFree(t *testing.T) {
	store := newFakeStore()
	store.subs[tenant] = storage.Subscription{TenantID: tenant, Plan: "pro", Status: storage.StatusCanceled}
	svc := newTestService(store, nil)

	snap, err := svc.Snapshot(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, "free", snap.Plan)
	assert.Equal(t, storage.StatusCanceled, snap.Status)
}

func TestSnapshotAppliesAddOnToOrders(t *testing.T) {
	store := newFakeStore()
	store.subs[tenant] = storage.Subscription{TenantID: tenant, Plan: "basic", Status: storage.StatusActive}
	store.addons[tenant+"/2026-10"] = 1000
	store.counters[tenant+"/orders/2026-10"] = 1500
	store.counters[tenant+"/orders/2026-09"] = 9999
	svc := newTestService(store, nil)

	snap, err := svc.Snapshot(context.Background(), tenant)
	require.NoError(t, err)
	chk, ok := snap.Check(entitlements.KindOrders)
	require.True(t, ok)
	assert.Equal(t, 1600, chk.EffectiveLimit)
	assert.Equal(t, 1500, chk.Used)
	assert.Equal(t, entitlements.LevelNear, chk.Level)

	chk, ok = snap.Check(entitlements.KindProducts)
	require.True(t, ok)
	assert.Equal(t, 100, chk.EffectiveLimit)
}

func TestSnapshotCustomPlanHasNoChecks(t *testing.T) {
	store := newFakeStore()
	store.subs[tenant] = storage.Subscription{TenantID: tenant, Plan: "Custom", Status: storage.StatusActive}
	svc := newTestService(store, nil)

	snap, err := svc.Snapshot(context.Background(), tenant)
	require.NoError(t, err)
	assert.True(t, snap.Custom)
	assert.Equal(t, "custom", snap.Plan)
	assert.Nil(t, snap.Limits)
	assert.Empty(t, snap.Checks)

	chk, err := svc.Consume(context.Background(), tenant, entitlements.KindProducts, 5000)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Unlimited, chk.EffectiveLimit)
	assert.Equal(t, 5000, chk.Used)
}

func TestConsumeRefusesPastLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	chk, err := svc.Consume(ctx, tenant, entitlements.KindCollaborators, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, chk.Used)
	assert.Equal(t, entitlements.LevelAtLimit, chk.Level)

	chk, err = svc.Consume(ctx, tenant, entitlements.KindCollaborators, 1)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 1, chk.Used)
	require.NotNil(t, chk.Copy)
	assert.Empty(t, chk.Copy.SecondaryCTA)

	chk, err = svc.Consume(ctx, tenant, entitlements.KindCollaborators, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, chk.Used)
}

func TestConsumeValidatesInput(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	ctx := context.Background()

	_, err := svc.Consume(ctx, tenant, entitlements.KindOrders, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Consume(ctx, tenant, entitlements.Kind("tables"), 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, entitlements.ErrUnknownKind)

	_, err = svc.Consume(ctx, " ", entitlements.KindOrders, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordOrderIgnoresLimitAndInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	store.counters[tenant+"/orders/2026-10"] = 50
	cache := &mapCache{snaps: map[string]Snapshot{}}
	svc := newTestService(store, cache)
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	chk, _ := snap.Check(entitlements.KindOrders)
	assert.Equal(t, entitlements.LevelAtLimit, chk.Level)
	assert.Contains(t, cache.snaps, tenant)

	require.NoError(t, svc.RecordOrder(ctx, Order{TenantID: tenant, At: fixedNow, EventID: "evt-1"}))
	assert.NotContains(t, cache.snaps, tenant)

	snap, err = svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	chk, _ = snap.Check(entitlements.KindOrders)
	assert.Equal(t, 51, chk.Used)
	assert.Equal(t, 100, chk.PercentUsed)

	// A redelivery of the same event leaves the counter alone.
	require.NoError(t, svc.RecordOrder(ctx, Order{TenantID: tenant, At: fixedNow, EventID: "evt-1"}))
	assert.Equal(t, 51, store.counters[tenant+"/orders/2026-10"])
	assert.Contains(t, cache.snaps, tenant)

	assert.ErrorIs(t, svc.RecordOrder(ctx, Order{TenantID: " "}), ErrInvalidArgument)
}

func TestSnapshotIgnoresStaleCachedPeriod(t *testing.T) {
	store := newFakeStore()
	cache := &mapCache{snaps: map[string]Snapshot{
		tenant: {TenantID: tenant, Plan: "ultra", Period: "2026-09"},
	}}
	svc := newTestService(store, cache)

	snap, err := svc.Snapshot(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, "free", snap.Plan)
	assert.Equal(t, "2026-10", cache.snaps[tenant].Period)
}
