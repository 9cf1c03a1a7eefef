package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/subscriptions"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// checkoutSessions tracks the local state of Stripe checkout sessions.
type checkoutSessions interface {
	MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time, customerID, subscriptionID string) error
	MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) error
}

type Handler struct {
	repo                   *storage.Repository
	sessions               checkoutSessions
	subSvc                 *subscriptions.Service
	usage                  *usage.Service
	logger                 *slog.Logger
	validate               *validator.Validate
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	stripeSecretKey        string
	stripePrices           map[string]string
	currency               string
	checkoutSuccessURL     string
	checkoutCancelURL      string
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	StripeSecretKey        string
	// StripePrices maps a plan name to its recurring Stripe price id.
	StripePrices       map[string]string
	Currency           string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

func New(repo *storage.Repository, subSvc *subscriptions.Service, usageSvc *usage.Service, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 300 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "brl"
	}
	prices := make(map[string]string, len(cfg.StripePrices))
	for plan, price := range cfg.StripePrices {
		if price = strings.TrimSpace(price); price != "" {
			prices[strings.ToLower(strings.TrimSpace(plan))] = price
		}
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	h := &Handler{
		repo:                   repo,
		subSvc:                 subSvc,
		usage:                  usageSvc,
		logger:                 logger,
		validate:               v,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		stripePrices:           prices,
		currency:               strings.ToLower(cfg.Currency),
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
	}
	if repo != nil {
		h.sessions = repo
	}
	return h
}

// Register mounts the billing routes. Checkout return pages and the Stripe
// webhook are public; everything else needs a tenant.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/billing/plans", h.Plans)
	mux.HandleFunc("/api/v1/billing/checkout/session", h.CheckoutSessionStatus)
	mux.HandleFunc("/api/v1/billing/checkout/session/ack", h.AckCheckoutReturn)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("/api/v1/billing/webhooks/local", h.LocalWebhook)

	mux.Handle("/api/v1/billing/subscription", httpx.RequireTenant(http.HandlerFunc(h.GetSubscription)))
	mux.Handle("/api/v1/billing/subscription/cancel", httpx.RequireTenant(http.HandlerFunc(h.CancelSubscription)))
	mux.Handle("/api/v1/billing/checkout", httpx.RequireTenant(http.HandlerFunc(h.Checkout)))
	mux.Handle("/api/v1/billing/addons/checkout", httpx.RequireTenant(http.HandlerFunc(h.AddOnCheckout)))
	mux.Handle("/api/v1/billing/entitlements", httpx.RequireTenant(http.HandlerFunc(h.Entitlements)))
	mux.Handle("/api/v1/billing/usage", httpx.RequireTenant(http.HandlerFunc(h.Usage)))
}

type localWebhookRequest struct {
	EventID     string `json:"event_id" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=subscription.activated subscription.canceled addon.purchased"`
	TenantID    string `json:"tenant_id" validate:"required"`
	Plan        string `json:"plan"`
	AddOnOrders int    `json:"addon_orders" validate:"gte=0"`
	OccurredAt  string `json:"occurred_at" validate:"required"`
}

// LocalWebhook simulates a billing provider for development and tests.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req localWebhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Plan = strings.TrimSpace(strings.ToLower(req.Plan))
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.OccurredAt))
	if err != nil {
		http.Error(w, "invalid occurred_at", http.StatusBadRequest)
		return
	}
	if !httpx.CanAccessTenant(r, req.TenantID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info("billing provider event received",
		"provider", "local",
		"provider_event_id", req.EventID,
		"event_type", req.Type,
		"tenant_id", req.TenantID,
		"plan", req.Plan,
		"occurred_at", occurredAt.UTC().Format(time.RFC3339),
	)

	payloadRaw, _ := json.Marshal(req)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "local",
		ProviderEventID: req.EventID,
		EventType:       req.Type,
		Payload:         payloadRaw,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider", "local", "provider_event_id", req.EventID, "event_type", req.Type)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if err := h.recordAudit(r.Context(), tx, r, "billing.provider.local.webhook", "provider", req.TenantID, map[string]any{
		"provider":          "local",
		"provider_event_id": req.EventID,
		"event_type":        req.Type,
		"plan":              req.Plan,
		"occurred_at":       occurredAt.UTC().Format(time.RFC3339),
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}

	change := subscriptions.Change{TenantID: req.TenantID, Plan: req.Plan, OccurredAt: occurredAt, Provider: "local"}
	switch req.Type {
	case "subscription.activated":
		if req.Plan == "" {
			http.Error(w, "plan is required for subscription.activated", http.StatusBadRequest)
			return
		}
		if err := h.subSvc.ApplyActivated(r.Context(), tx, change); err != nil {
			http.Error(w, "failed to apply activation", http.StatusInternalServerError)
			return
		}
	case "subscription.canceled":
		if err := h.subSvc.ApplyCanceled(r.Context(), tx, change); err != nil {
			http.Error(w, "failed to apply cancellation", http.StatusInternalServerError)
			return
		}
	case "addon.purchased":
		if _, err := h.subSvc.RecordAddOn(r.Context(), tx, storage.AddOnPurchase{
			TenantID:    req.TenantID,
			Period:      h.usage.Period(occurredAt),
			Orders:      req.AddOnOrders,
			Provider:    "local",
			ProviderRef: req.EventID,
		}, occurredAt); err != nil {
			http.Error(w, "failed to record add-on: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.usage.Invalidate(r.Context(), req.TenantID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	tenantID, ok := requestedTenant(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}

	sub, err := h.repo.GetSubscription(r.Context(), tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			limits, _ := h.usage.Catalog().LimitsFor(entitlements.PlanFree)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"tenant_id":    tenantID,
				"plan":         entitlements.PlanFree,
				"status":       "none",
				"entitlements": limits,
			})
			return
		}
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"tenant_id":  tenantID,
		"plan":       sub.Plan,
		"status":     sub.Status,
		"provider":   sub.Provider,
		"updated_at": sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if limits, ok := h.usage.Catalog().LimitsFor(sub.EffectivePlan()); ok {
		resp["entitlements"] = limits
	} else {
		resp["custom"] = true
	}
	if sub.CurrentPeriodEnd != nil {
		resp["current_period_end"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type cancelSubscriptionRequest struct {
	TenantID string `json:"tenant_id,omitempty"` // admin only
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe billing not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req cancelSubscriptionRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // optional body
	tenantID := httpx.TenantID(r)
	if httpx.Role(r) == "admin" && strings.TrimSpace(req.TenantID) != "" {
		tenantID = strings.TrimSpace(req.TenantID)
	}

	sub, err := h.repo.GetSubscription(r.Context(), tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}
	stripeSubID := strings.TrimSpace(sub.StripeSubscriptionID)
	if stripeSubID == "" {
		http.Error(w, "no stripe subscription id on record", http.StatusConflict)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		idemKey = "cancel:" + tenantID + ":" + stripeSubID
	}

	stripe.Key = h.stripeSecretKey
	cancelParams := &stripe.SubscriptionCancelParams{}
	cancelParams.IdempotencyKey = stripe.String(idemKey)
	cancelParams.Context = r.Context()

	stripeSub, err := stripesubscription.Cancel(stripeSubID, cancelParams)
	if err != nil {
		h.logger.Error("stripe subscription cancel failed", "err", err, "stripe_subscription_id", stripeSubID)
		http.Error(w, "failed to cancel subscription", http.StatusBadGateway)
		return
	}

	now := time.Now().UTC()
	customerID := ""
	if stripeSub != nil && stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	payload, _ := json.Marshal(map[string]any{
		"tenant_id":              tenantID,
		"stripe_subscription_id": stripeSubID,
		"idempotency_key":        idemKey,
		"canceled_at":            now.Format(time.RFC3339),
	})
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "internal",
		ProviderEventID: idemKey,
		EventType:       "subscription.cancel",
		Payload:         payload,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record cancellation", http.StatusInternalServerError)
		return
	}

	if err := h.recordAudit(r.Context(), tx, r, "billing.subscription.cancel.requested", "", tenantID, map[string]any{
		"provider":               "stripe",
		"stripe_subscription_id": stripeSubID,
		"idempotency_key":        idemKey,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}

	if err := h.subSvc.ApplyCanceled(r.Context(), tx, subscriptions.Change{
		TenantID:             tenantID,
		OccurredAt:           now,
		Provider:             "stripe",
		StripeCustomerID:     customerID,
		StripeSubscriptionID: stripeSubID,
	}); err != nil {
		http.Error(w, "failed to apply cancellation", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.usage.Invalidate(r.Context(), tenantID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type checkoutRequest struct {
	Plan       string `json:"plan" validate:"required"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// Checkout starts a Stripe subscription checkout for a paid plan.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantID := httpx.TenantID(r)

	p, ok := h.usage.Catalog().Resolve(req.Plan)
	if !ok || p.Name == entitlements.PlanFree {
		http.Error(w, "unsupported plan", http.StatusBadRequest)
		return
	}
	priceID := h.stripePrices[p.Name]
	if priceID == "" {
		http.Error(w, "stripe price id not configured for plan", http.StatusNotImplemented)
		return
	}
	successURL, cancelURL, ok := h.returnURLs(w, req.SuccessURL, req.CancelURL)
	if !ok {
		return
	}

	returnToken := newReturnToken()
	stripe.Key = h.stripeSecretKey
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(withQueryParam(successURL, "state", returnToken)),
		CancelURL:         stripe.String(withQueryParam(cancelURL, "state", returnToken)),
		ClientReferenceID: stripe.String(tenantID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"tenant_id": tenantID,
			"purpose":   storage.PurposePlan,
			"plan":      p.Name,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"tenant_id": tenantID,
				"plan":      p.Name,
			},
		},
	}
	params.Context = r.Context()
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	if err := h.persistCheckout(r, storage.CheckoutSession{
		StripeSessionID: sess.ID,
		TenantID:        tenantID,
		Purpose:         storage.PurposePlan,
		Plan:            p.Name,
		Status:          "created",
		URL:             sess.URL,
		ReturnToken:     returnToken,
	}); err != nil {
		h.logger.Error("checkout session persist failed", "err", err, "stripe_session_id", sess.ID)
		http.Error(w, "failed to persist checkout session", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

func (h *Handler) persistCheckout(r *http.Request, s storage.CheckoutSession) error {
	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(r.Context()) }()
	if err := h.repo.UpsertCheckoutSession(r.Context(), tx, s); err != nil {
		return err
	}
	if err := h.recordAudit(r.Context(), tx, r, "billing.checkout.created", "", s.TenantID, map[string]any{
		"purpose":           s.Purpose,
		"plan":              s.Plan,
		"addon_orders":      s.AddOnOrders,
		"stripe_session_id": s.StripeSessionID,
	}); err != nil {
		return err
	}
	return tx.Commit(r.Context())
}

func (h *Handler) returnURLs(w http.ResponseWriter, success, cancel string) (string, string, bool) {
	if success = strings.TrimSpace(success); success == "" {
		success = h.checkoutSuccessURL
	}
	if cancel = strings.TrimSpace(cancel); cancel == "" {
		cancel = h.checkoutCancelURL
	}
	if success == "" || cancel == "" {
		http.Error(w, "success_url and cancel_url are required (or configure default URLs)", http.StatusBadRequest)
		return "", "", false
	}
	return success, cancel, true
}

// CheckoutSessionStatus is public: Stripe redirects the customer without a
// JWT. It returns non-sensitive state only.
func (h *Handler) CheckoutSessionStatus(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.repo.GetCheckoutSession(r.Context(), sessionID)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"session_id": sess.StripeSessionID,
		"purpose":    sess.Purpose,
		"plan":       sess.Plan,
		"status":     sess.Status,
		"updated_at": sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sess.Purpose == storage.PurposeAddOn {
		resp["addon_orders"] = sess.AddOnOrders
	}
	if sess.CompletedAt != nil {
		resp["completed_at"] = sess.CompletedAt.UTC().Format(time.RFC3339)
	}
	if sess.CanceledAt != nil {
		resp["canceled_at"] = sess.CanceledAt.UTC().Format(time.RFC3339)
	}
	if sess.ExpiredAt != nil {
		resp["expired_at"] = sess.ExpiredAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type checkoutAckRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	State     string `json:"state" validate:"required"`
	Result    string `json:"result" validate:"required,oneof=success cancel"`
}

// AckCheckoutReturn is public but guarded by the per-session return token.
func (h *Handler) AckCheckoutReturn(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req checkoutAckRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.AckCheckoutReturn(r.Context(), tx, strings.TrimSpace(req.SessionID), strings.TrimSpace(req.State), req.Result, time.Now().UTC()); err != nil {
		http.Error(w, "failed to record return", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// decode reads and validates the JSON body into req. It writes the 400
// itself and reports false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

// requestedTenant resolves the tenant a read targets: the caller's own unless
// an admin names another.
func requestedTenant(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	tenantID := strings.TrimSpace(requested)
	if tenantID == "" {
		tenantID = httpx.TenantID(r)
	}
	if !httpx.CanAccessTenant(r, tenantID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return tenantID, true
}

func newReturnToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func withQueryParam(rawURL string, key string, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

func (h *Handler) recordAudit(ctx context.Context, tx pgx.Tx, r *http.Request, eventType string, actorType string, tenantID string, metadata map[string]any) error {
	if actorType == "" {
		actorType = httpx.Role(r)
	}
	if actorType == "" {
		actorType = "system"
	}
	actorID := strings.TrimSpace(r.Header.Get(httpx.UserHeader))
	if actorID == "" {
		actorID = httpx.TenantID(r)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if reqID := httpx.RequestIDFromContext(r.Context()); reqID != "" {
		metadata["request_id"] = reqID
	}
	raw, _ := json.Marshal(metadata)
	return h.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType: eventType,
		ActorType: actorType,
		ActorID:   actorID,
		TenantID:  tenantID,
		Metadata:  raw,
	})
}
