package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slicehub/libs/inbox"
)

// PeriodTotal is the period of counters that never reset.
const PeriodTotal = "total"

// MonthPeriod formats t as the YYYY-MM period of monthly counters.
func MonthPeriod(t time.Time) string {
	return t.Format("2006-01")
}

var ErrLimitReached = errors.New("usage limit reached")

// Usage returns the counters for tenantID in the given periods keyed by kind.
// Kinds with no row are absent.
func (r *Repository) Usage(ctx context.Context, tenantID string, periods ...string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, used
		FROM usage_counters
		WHERE tenant_id = $1 AND period = ANY($2)
	`, tenantID, periods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			used int
		)
		if err := rows.Scan(&kind, &used); err != nil {
			return nil, err
		}
		out[kind] = used
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AdjustUsage adds delta to a counter under a row lock and returns the new
// value. A positive delta that would take the counter past limit is refused
// with ErrLimitReached unless limit is negative (unlimited) or force is set.
// Counters never go below zero.
func (r *Repository) AdjustUsage(ctx context.Context, tenantID, kind, period string, delta, limit int, force bool) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	used, err := r.adjustUsage(ctx, tx, tenantID, kind, period, delta, limit, force)
	if err != nil {
		return used, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return used, nil
}

// CountEvent adds one to a counter on behalf of an inbound event, past any
// limit. The event id is recorded in the same transaction; it reports false,
// without counting, when the event was already applied.
func (r *Repository) CountEvent(ctx context.Context, tenantID, kind, period, eventID, eventType string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := inbox.Record(ctx, tx, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("inbox record: %w", err)
	}
	if !fresh {
		return false, nil
	}
	if _, err := r.adjustUsage(ctx, tx, tenantID, kind, period, 1, -1, true); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) adjustUsage(ctx context.Context, tx pgx.Tx, tenantID, kind, period string, delta, limit int, force bool) (int, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_counters (tenant_id, kind, period)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, kind, period) DO NOTHING
	`, tenantID, kind, period); err != nil {
		return 0, err
	}

	var used int
	if err := tx.QueryRow(ctx, `
		SELECT used
		FROM usage_counters
		WHERE tenant_id = $1 AND kind = $2 AND period = $3
		FOR UPDATE
	`, tenantID, kind, period).Scan(&used); err != nil {
		return 0, err
	}

	if delta > 0 && !force && limit >= 0 && used+delta > limit {
		return used, ErrLimitReached
	}
	next := max(0, used+delta)

	if _, err := tx.Exec(ctx, `
		UPDATE usage_counters
		SET used = $4, updated_at = now()
		WHERE tenant_id = $1 AND kind = $2 AND period = $3
	`, tenantID, kind, period, next); err != nil {
		return 0, err
	}
	return next, nil
}

type AddOnPurchase struct {
	TenantID    string
	Period      string
	Orders      int
	Provider    string
	ProviderRef string
}

// InsertAddOnPurchase records purchased order volume. It reports false when
// the provider reference was already recorded.
func (r *Repository) InsertAddOnPurchase(ctx context.Context, tx pgx.Tx, p AddOnPurchase) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO addon_purchases (tenant_id, period, orders, provider, provider_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_ref) DO NOTHING
	`, p.TenantID, p.Period, p.Orders, p.Provider, p.ProviderRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddOnOrders sums the order volume bought by tenantID for period.
func (r *Repository) AddOnOrders(ctx context.Context, tenantID, period string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(orders), 0)::int
		FROM addon_purchases
		WHERE tenant_id = $1 AND period = $2
	`, tenantID, period).Scan(&total)
	return total, err
}
