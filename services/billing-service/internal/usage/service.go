// Package usage combines a tenant's subscription, usage counters and add-on
// purchases with the plan catalog.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLimitReached    = storage.ErrLimitReached
)

type Store interface {
	GetSubscription(ctx context.Context, tenantID string) (storage.Subscription, error)
	Usage(ctx context.Context, tenantID string, periods ...string) (map[string]int, error)
	AddOnOrders(ctx context.Context, tenantID, period string) (int, error)
	AdjustUsage(ctx context.Context, tenantID, kind, period string, delta, limit int, force bool) (int, error)
	CountEvent(ctx context.Context, tenantID, kind, period, eventID, eventType string) (bool, error)
}

// Cache holds computed snapshots. Implementations may drop entries at any
// time.
type Cache interface {
	Get(ctx context.Context, tenantID string) (Snapshot, bool, error)
	Set(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, tenantID string) error
}

// Snapshot is a tenant's entitlement state for the current period.
type Snapshot struct {
	TenantID    string                    `json:"tenant_id"`
	Plan        string                    `json:"plan"`
	Status      string                    `json:"status"`
	Period      string                    `json:"period"`
	Custom      bool                      `json:"custom"`
	Limits      *entitlements.Limits      `json:"limits,omitempty"`
	AddOnOrders int                       `json:"addon_orders"`
	Usage       map[entitlements.Kind]int `json:"usage"`
	Checks      []entitlements.Check      `json:"checks,omitempty"`
}

// Check returns the evaluation for kind. It reports false for custom plans.
func (s Snapshot) Check(kind entitlements.Kind) (entitlements.Check, bool) {
	for _, c := range s.Checks {
		if c.Kind == kind {
			return c, true
		}
	}
	return entitlements.Check{}, false
}

type Config struct {
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	store   Store
	catalog entitlements.Catalog
	cache   Cache
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
}

func NewService(store Store, catalog entitlements.Catalog, cache Cache, logger *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, catalog: catalog, cache: cache, logger: logger, loc: cfg.Location, now: cfg.Now}
}

func (s *Service) Catalog() entitlements.Catalog {
	return s.catalog
}

// Period returns the monthly period t falls in, in the billing timezone.
func (s *Service) Period(t time.Time) string {
	return storage.MonthPeriod(t.In(s.loc))
}

func period(kind entitlements.Kind, month string) string {
	if kind.Monthly() {
		return month
	}
	return storage.PeriodTotal
}

// Snapshot returns the tenant's current entitlements, from the cache when a
// snapshot for the current period is there.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Snapshot{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	month := s.Period(s.now())

	if s.cache != nil {
		snap, ok, err := s.cache.Get(ctx, tenantID)
		if err != nil {
			s.logger.Warn("entitlement cache read failed", "tenant_id", tenantID, "err", err)
		} else if ok && snap.Period == month {
			return snap, nil
		}
	}

	snap, err := s.build(ctx, tenantID, month)
	if err != nil {
		return Snapshot{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.Warn("entitlement cache write failed", "tenant_id", tenantID, "err", err)
		}
	}
	return snap, nil
}

func (s *Service) build(ctx context.Context, tenantID, month string) (Snapshot, error) {
	snap := Snapshot{TenantID: tenantID, Period: month, Status: "none", Plan: entitlements.PlanFree}

	sub, err := s.store.GetSubscription(ctx, tenantID)
	switch {
	case err == nil:
		snap.Status = sub.Status
		snap.Plan = sub.EffectivePlan()
	case db.IsNotFound(err):
	default:
		return Snapshot{}, fmt.Errorf("load subscription: %w", err)
	}

	counters, err := s.store.Usage(ctx, tenantID, month, storage.PeriodTotal)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load usage: %w", err)
	}
	snap.Usage = make(map[entitlements.Kind]int, len(entitlements.Kinds))
	for _, k := range entitlements.Kinds {
		snap.Usage[k] = counters[string(k)]
	}

	p, ok := s.catalog.Resolve(snap.Plan)
	if !ok {
		snap.Plan = strings.ToLower(strings.TrimSpace(snap.Plan))
		snap.Custom = true
		return snap, nil
	}
	snap.Plan = p.Name
	limits := p.Limits
	snap.Limits = &limits

	snap.AddOnOrders, err = s.store.AddOnOrders(ctx, tenantID, month)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load add-ons: %w", err)
	}
	for _, k := range entitlements.Kinds {
		chk, _, err := s.catalog.Evaluate(p.Name, k, snap.Usage[k], snap.AddOnOrders)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Checks = append(snap.Checks, chk)
	}
	return snap, nil
}

// Consume adds delta to the tenant's counter for kind. A positive delta that
// does not fit under the effective limit fails with ErrLimitReached and the
// returned check describes the limit. Negative deltas release capacity.
func (s *Service) Consume(ctx context.Context, tenantID string, kind entitlements.Kind, delta int) (entitlements.Check, error) {
	if delta == 0 {
		return entitlements.Check{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidArgument)
	}
	if _, err := entitlements.ParseKind(string(kind)); err != nil {
		return entitlements.Check{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	snap, err := s.Snapshot(ctx, tenantID)
	if err != nil {
		return entitlements.Check{}, err
	}

	limit := entitlements.Unlimited
	chk, limited := snap.Check(kind)
	if limited {
		limit = chk.EffectiveLimit
	}

	used, err := s.store.AdjustUsage(ctx, snap.TenantID, string(kind), period(kind, snap.Period), delta, limit, false)
	if errors.Is(err, ErrLimitReached) {
		s.invalidate(ctx, snap.TenantID)
		return s.evaluate(snap, kind, used), err
	}
	if err != nil {
		return entitlements.Check{}, err
	}
	s.invalidate(ctx, snap.TenantID)

	return s.evaluate(snap, kind, used), nil
}

// evaluate re-checks kind at a new usage value. Custom plans report an
// unlimited check.
func (s *Service) evaluate(snap Snapshot, kind entitlements.Kind, used int) entitlements.Check {
	chk, ok, err := s.catalog.Evaluate(snap.Plan, kind, used, snap.AddOnOrders)
	if err != nil || !ok || snap.Custom {
		return entitlements.Check{
			Kind:           kind,
			Plan:           snap.Plan,
			Limit:          entitlements.Unlimited,
			EffectiveLimit: entitlements.Unlimited,
			Used:           used,
			Level:          entitlements.LevelUnder,
			Purchasable:    kind.Purchasable(),
		}
	}
	return chk
}

// Order is a completed order reported by an inbound event.
type Order struct {
	TenantID  string
	At        time.Time
	EventID   string
	EventType string
}

// RecordOrder counts a completed order. Orders already taken are never
// refused, so the counter may pass the limit. A redelivered event is counted
// once.
func (s *Service) RecordOrder(ctx context.Context, o Order) error {
	tenantID := strings.TrimSpace(o.TenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	at := o.At
	if at.IsZero() {
		at = s.now()
	}
	counted, err := s.store.CountEvent(ctx, tenantID, string(entitlements.KindOrders), s.Period(at), o.EventID, o.EventType)
	if err != nil {
		return err
	}
	if !counted {
		s.logger.Info("order event already counted", "tenant_id", tenantID, "event_id", o.EventID)
		return nil
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// Invalidate drops the cached snapshot after a subscription or add-on change.
func (s *Service) Invalidate(ctx context.Context, tenantID string) {
	s.invalidate(ctx, tenantID)
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, tenantID); err != nil {
		s.logger.Warn("entitlement cache invalidate failed", "tenant_id", tenantID, "err", err)
	}
}
