package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slicehub/libs/outbox"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
)

const (
	EventSubscriptionActivated = "billing.subscription.activated.v1"
	EventSubscriptionCanceled  = "billing.subscription.canceled.v1"
	EventAddOnPurchased        = "billing.addon.purchased.v1"
)

// Service applies subscription and add-on transitions inside the caller's
// transaction and writes the matching outbox events. Webhooks and the
// reconciler share it.
type Service struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	catalog    entitlements.Catalog
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, catalog entitlements.Catalog) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo, catalog: catalog}
}

type Change struct {
	TenantID             string
	Plan                 string
	OccurredAt           time.Time
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
}

type subscriptionPayload struct {
	TenantID   string               `json:"tenant_id"`
	Plan       string               `json:"plan"`
	Status     string               `json:"status"`
	Custom     bool                 `json:"custom,omitempty"`
	Limits     *entitlements.Limits `json:"limits,omitempty"`
	OccurredAt string               `json:"occurred_at"`
}

func (s *Service) payload(tenantID, plan, status string, at time.Time) subscriptionPayload {
	p := subscriptionPayload{TenantID: tenantID, Plan: plan, Status: status, OccurredAt: at.UTC().Format(time.RFC3339)}
	if limits, ok := s.catalog.LimitsFor(plan); ok {
		p.Limits = &limits
	} else {
		p.Custom = true
	}
	return p
}

func (s *Service) ApplyActivated(ctx context.Context, tx pgx.Tx, c Change) error {
	existing, ok, err := s.repo.GetSubscriptionForUpdate(ctx, tx, c.TenantID)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertSubscription(ctx, tx, storage.Subscription{
		TenantID:             c.TenantID,
		Plan:                 c.Plan,
		Status:               storage.StatusActive,
		Provider:             c.Provider,
		StripeCustomerID:     c.StripeCustomerID,
		StripeSubscriptionID: c.StripeSubscriptionID,
		CurrentPeriodStart:   c.PeriodStart,
		CurrentPeriodEnd:     c.PeriodEnd,
	}); err != nil {
		return err
	}

	// Provider id refreshes alone do not fan out.
	if ok && existing.Status == storage.StatusActive && existing.Plan == c.Plan {
		return nil
	}
	return s.emit(ctx, tx, c.TenantID, EventSubscriptionActivated, s.payload(c.TenantID, c.Plan, storage.StatusActive, c.OccurredAt))
}

func (s *Service) ApplyCanceled(ctx context.Context, tx pgx.Tx, c Change) error {
	existing, ok, err := s.repo.GetSubscriptionForUpdate(ctx, tx, c.TenantID)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertSubscription(ctx, tx, storage.Subscription{
		TenantID:             c.TenantID,
		Plan:                 entitlements.PlanFree,
		Status:               storage.StatusCanceled,
		Provider:             c.Provider,
		StripeCustomerID:     c.StripeCustomerID,
		StripeSubscriptionID: c.StripeSubscriptionID,
		CurrentPeriodStart:   c.PeriodStart,
		CurrentPeriodEnd:     c.PeriodEnd,
	}); err != nil {
		return err
	}

	if ok && existing.Status == storage.StatusCanceled && existing.Plan == entitlements.PlanFree {
		return nil
	}
	return s.emit(ctx, tx, c.TenantID, EventSubscriptionCanceled, s.payload(c.TenantID, entitlements.PlanFree, storage.StatusCanceled, c.OccurredAt))
}

type addOnPayload struct {
	TenantID    string `json:"tenant_id"`
	Orders      int    `json:"orders"`
	Period      string `json:"period"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	OccurredAt  string `json:"occurred_at"`
}

// RecordAddOn stores purchased order volume for period. A provider reference
// seen before is ignored and reports false.
func (s *Service) RecordAddOn(ctx context.Context, tx pgx.Tx, p storage.AddOnPurchase, at time.Time) (bool, error) {
	if _, ok := s.catalog.AddOn(p.Orders); !ok {
		return false, fmt.Errorf("no add-on sells %d orders", p.Orders)
	}
	inserted, err := s.repo.InsertAddOnPurchase(ctx, tx, p)
	if err != nil || !inserted {
		return false, err
	}
	return true, s.emit(ctx, tx, p.TenantID, EventAddOnPurchased, addOnPayload{
		TenantID:    p.TenantID,
		Orders:      p.Orders,
		Period:      p.Period,
		Provider:    p.Provider,
		ProviderRef: p.ProviderRef,
		OccurredAt:  at.UTC().Format(time.RFC3339),
	})
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, tenantID, eventType string, payload any) error {
	evt, err := outbox.NewEvent(tenantID, "subscription", tenantID, eventType, payload)
	if err != nil {
		return err
	}
	return s.outboxRepo.Insert(ctx, tx, evt)
}
