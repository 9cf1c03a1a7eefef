package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

type invalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// StripeReconciler re-reads Stripe subscriptions on a timer and repairs
// local state that missed a webhook.
type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	subSvc      *subscriptions.Service
	cache       invalidator
	logger      *slog.Logger
	stripeKey   string
	batchSize   int
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	BatchSize       int
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, subSvc *subscriptions.Service, cache invalidator, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		lockKey = 4242001
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		subSvc:      subSvc,
		cache:       cache,
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Only the instance holding the advisory lock reconciles.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.reconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	subs, err := r.repo.ListStripeSubscriptionsForReconcile(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list subscriptions", "err", err)
		return
	}

	for _, s := range subs {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(s.StripeSubscriptionID) == "" || strings.TrimSpace(s.TenantID) == "" {
			continue
		}

		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		stripeSub, err := stripesubscription.Get(s.StripeSubscriptionID, params)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch subscription", "err", err, "stripe_subscription_id", s.StripeSubscriptionID, "tenant_id", s.TenantID)
			continue
		}

		change, entitled := changeFromStripe(s, stripeSub, time.Now().UTC())
		if err := r.apply(ctx, change, entitled); err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "tenant_id", s.TenantID, "stripe_subscription_id", stripeSub.ID)
			continue
		}
		r.cache.Invalidate(ctx, s.TenantID)
	}
}

func (r *StripeReconciler) apply(ctx context.Context, change subscriptions.Change, entitled bool) error {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if entitled {
		err = r.subSvc.ApplyActivated(ctx, tx, change)
	} else {
		err = r.subSvc.ApplyCanceled(ctx, tx, change)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// changeFromStripe maps a fetched Stripe subscription onto a Change for the
// local row. Stripe owns the lifecycle; only active and trialing entitle.
// Missing plan metadata keeps the local plan.
func changeFromStripe(local storage.Subscription, sub *stripe.Subscription, now time.Time) (subscriptions.Change, bool) {
	entitled := sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing

	c := subscriptions.Change{
		TenantID:             local.TenantID,
		Plan:                 strings.TrimSpace(strings.ToLower(sub.Metadata["plan"])),
		Provider:             "stripe",
		StripeSubscriptionID: sub.ID,
	}
	if c.Plan == "" {
		c.Plan = local.Plan
	}
	if sub.Customer != nil {
		c.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		c.PeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		c.PeriodEnd = &t
	}

	switch {
	case entitled:
		c.OccurredAt = time.Unix(sub.Created, 0).UTC()
	case sub.CanceledAt > 0:
		c.OccurredAt = time.Unix(sub.CanceledAt, 0).UTC()
	default:
		c.OccurredAt = now
	}
	return c, entitled
}
