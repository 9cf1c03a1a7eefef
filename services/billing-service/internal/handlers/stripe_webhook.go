package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks. The signature is the auth, so the
// gateway exposes this path without a JWT.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if err := h.recordAudit(r.Context(), tx, r, "billing.provider.stripe.webhook", "provider", "", map[string]any{
		"provider":          "stripe",
		"provider_event_id": evt.ID,
		"event_type":        evtType,
		"occurred_at":       occurredAt.Format(time.RFC3339),
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}

	touched, err := h.applyStripeEvent(r.Context(), tx, evtType, evt.Data.Raw, occurredAt)
	if err != nil {
		h.logger.Error("stripe: event not applied", "err", err, "provider_event_id", evt.ID, "event_type", evtType)
		http.Error(w, "failed to apply stripe event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	if touched != "" {
		h.usage.Invalidate(r.Context(), touched)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// applyStripeEvent applies one verified event inside tx and returns the
// tenant whose entitlements changed, if any. Payloads that cannot be applied
// are logged and skipped; storage failures are returned so the caller can
// roll back and let Stripe retry.
func (h *Handler) applyStripeEvent(ctx context.Context, tx pgx.Tx, evtType string, raw json.RawMessage, occurredAt time.Time) (string, error) {
	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return "", nil
		}
		tenantID := strings.TrimSpace(session.Metadata["tenant_id"])
		if tenantID == "" {
			h.logger.Warn("stripe: checkout session without tenant_id metadata", "stripe_session_id", session.ID)
			return "", nil
		}

		customerID := ""
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		subscriptionID := ""
		if session.Subscription != nil {
			subscriptionID = session.Subscription.ID
		}
		if err := h.sessions.MarkCheckoutSessionCompleted(ctx, tx, session.ID, occurredAt, customerID, subscriptionID); err != nil {
			return "", fmt.Errorf("mark checkout session completed: %w", err)
		}

		if session.Metadata["purpose"] == storage.PurposeAddOn {
			purchase, ok := h.addOnPurchase(&session, tenantID, occurredAt)
			if !ok {
				h.logger.Warn("stripe: add-on checkout without addon_orders", "stripe_session_id", session.ID)
				return "", nil
			}
			if _, err := h.subSvc.RecordAddOn(ctx, tx, purchase, occurredAt); err != nil {
				return "", fmt.Errorf("record add-on: %w", err)
			}
			return tenantID, nil
		}

		plan := strings.TrimSpace(strings.ToLower(session.Metadata["plan"]))
		if plan == "" {
			h.logger.Warn("stripe: plan checkout without plan metadata", "stripe_session_id", session.ID)
			return "", nil
		}
		if err := h.subSvc.ApplyActivated(ctx, tx, subscriptions.Change{
			TenantID:             tenantID,
			Plan:                 plan,
			OccurredAt:           occurredAt,
			Provider:             "stripe",
			StripeCustomerID:     customerID,
			StripeSubscriptionID: subscriptionID,
		}); err != nil {
			return "", fmt.Errorf("apply activation: %w", err)
		}
		return tenantID, nil

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return "", nil
		}
		if err := h.sessions.MarkCheckoutSessionExpired(ctx, tx, session.ID, occurredAt); err != nil {
			return "", fmt.Errorf("mark checkout session expired: %w", err)
		}
		return "", nil

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return "", nil
		}
		// Only active and trialing subscriptions are entitled.
		if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
			return "", nil
		}
		change, ok := subscriptionChange(&sub, occurredAt)
		if !ok || change.Plan == "" {
			h.logger.Warn("stripe: subscription without tenant_id/plan metadata", "stripe_subscription_id", sub.ID)
			return "", nil
		}
		if err := h.subSvc.ApplyActivated(ctx, tx, change); err != nil {
			return "", fmt.Errorf("apply activation: %w", err)
		}
		return change.TenantID, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return "", nil
		}
		change, ok := subscriptionChange(&sub, occurredAt)
		if !ok {
			h.logger.Warn("stripe: subscription without tenant_id metadata", "stripe_subscription_id", sub.ID)
			return "", nil
		}
		if err := h.subSvc.ApplyCanceled(ctx, tx, change); err != nil {
			return "", fmt.Errorf("apply cancellation: %w", err)
		}
		return change.TenantID, nil
	}
	return "", nil
}

// addOnPurchase builds the add-on row for a paid checkout. The volume counts
// for the month the payment completed in, not the month checkout started.
func (h *Handler) addOnPurchase(session *stripe.CheckoutSession, tenantID string, completedAt time.Time) (storage.AddOnPurchase, bool) {
	orders, err := strconv.Atoi(session.Metadata["addon_orders"])
	if err != nil || orders <= 0 {
		return storage.AddOnPurchase{}, false
	}
	return storage.AddOnPurchase{
		TenantID:    tenantID,
		Period:      h.usage.Period(completedAt),
		Orders:      orders,
		Provider:    "stripe",
		ProviderRef: session.ID,
	}, true
}

// subscriptionChange maps a Stripe subscription onto a Change. It reports
// false when the subscription carries no tenant.
func subscriptionChange(sub *stripe.Subscription, occurredAt time.Time) (subscriptions.Change, bool) {
	tenantID := strings.TrimSpace(sub.Metadata["tenant_id"])
	if tenantID == "" {
		return subscriptions.Change{}, false
	}
	c := subscriptions.Change{
		TenantID:             tenantID,
		Plan:                 strings.TrimSpace(strings.ToLower(sub.Metadata["plan"])),
		OccurredAt:           occurredAt,
		Provider:             "stripe",
		StripeSubscriptionID: sub.ID,
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
	return c, true
}
