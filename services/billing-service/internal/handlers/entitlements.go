package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

// Plans lists the catalog. It is public so pricing pages can render it.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	catalog := h.usage.Catalog()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"plans":  catalog.Plans(),
		"addons": catalog.AddOns(),
	})
}

// Entitlements returns the tenant snapshot, or a single check with ?kind=.
func (h *Handler) Entitlements(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	tenantID, ok := requestedTenant(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}

	snap, err := h.usage.Snapshot(r.Context(), tenantID)
	if err != nil {
		h.writeUsageError(w, err)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("kind"))
	if raw == "" {
		httpx.WriteJSON(w, http.StatusOK, snap)
		return
	}
	kind, err := entitlements.ParseKind(raw)
	if err != nil {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	chk, ok := snap.Check(kind)
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"kind": kind, "plan": snap.Plan, "custom": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, chk)
}

type usageRequest struct {
	TenantID string `json:"tenant_id,omitempty"` // admin only
	Kind     string `json:"kind" validate:"required"`
	Delta    int    `json:"delta" validate:"required"`
}

// Usage moves a counter. Growth past the effective limit answers 402 with
// the rendered check so the caller can show upgrade copy.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req usageRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantID, ok := requestedTenant(w, r, req.TenantID)
	if !ok {
		return
	}
	kind, err := entitlements.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}

	chk, err := h.usage.Consume(r.Context(), tenantID, kind, req.Delta)
	if errors.Is(err, usage.ErrLimitReached) {
		h.logger.Info("usage refused at limit", "tenant_id", tenantID, "kind", kind, "used", chk.Used, "limit", chk.EffectiveLimit)
		httpx.WriteJSON(w, http.StatusPaymentRequired, map[string]any{
			"error": "limit_reached",
			"check": chk,
		})
		return
	}
	if err != nil {
		h.writeUsageError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, chk)
}

type addOnCheckoutRequest struct {
	Kind       string `json:"kind" validate:"required"`
	Orders     int    `json:"orders" validate:"gte=0"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// AddOnCheckout sells extra monthly order volume. Only orders can be bought;
// other kinds answer 409 with the upgrade copy for that kind.
func (h *Handler) AddOnCheckout(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req addOnCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantID := httpx.TenantID(r)
	kind, err := entitlements.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}

	snap, err := h.usage.Snapshot(r.Context(), tenantID)
	if err != nil {
		h.writeUsageError(w, err)
		return
	}
	if snap.Custom {
		http.Error(w, "custom plans are managed by sales", http.StatusConflict)
		return
	}
	if !kind.Purchasable() {
		resp := map[string]any{"error": "upgrade_required", "kind": kind}
		if chk, ok := snap.Check(kind); ok {
			cp := chk.Copy
			if cp == nil {
				tmpl, err := h.usage.Catalog().CopyFor(kind)
				if err == nil {
					p, _ := h.usage.Catalog().Resolve(snap.Plan)
					rendered := tmpl.Render(entitlements.CopyValues{
						Plan:  p.DisplayName,
						Limit: entitlements.FormatLimit(chk.EffectiveLimit),
						Used:  strconv.Itoa(chk.Used),
					})
					cp = &rendered
				}
			}
			resp["check"] = chk
			resp["copy"] = cp
		}
		httpx.WriteJSON(w, http.StatusConflict, resp)
		return
	}

	pack, ok := h.usage.Catalog().AddOn(req.Orders)
	if !ok {
		http.Error(w, "unknown add-on pack", http.StatusBadRequest)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}
	successURL, cancelURL, ok := h.returnURLs(w, req.SuccessURL, req.CancelURL)
	if !ok {
		return
	}

	ordersText := strconv.Itoa(pack.Orders)
	returnToken := newReturnToken()
	stripe.Key = h.stripeSecretKey
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withQueryParam(successURL, "state", returnToken)),
		CancelURL:         stripe.String(withQueryParam(cancelURL, "state", returnToken)),
		ClientReferenceID: stripe.String(tenantID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(h.currency),
					UnitAmount: stripe.Int64(pack.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Pacote de " + ordersText + " pedidos"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"tenant_id":    tenantID,
			"purpose":      storage.PurposeAddOn,
			"addon_orders": ordersText,
		},
	}
	params.Context = r.Context()
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe add-on checkout create failed", "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	if err := h.persistCheckout(r, storage.CheckoutSession{
		StripeSessionID: sess.ID,
		TenantID:        tenantID,
		Purpose:         storage.PurposeAddOn,
		AddOnOrders:     pack.Orders,
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
		"price":      pack.PriceLabel,
	})
}

func (h *Handler) writeUsageError(w http.ResponseWriter, err error) {
	if errors.Is(err, usage.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error("entitlements lookup failed", "err", err)
	http.Error(w, "failed to load entitlements", http.StatusInternalServerError)
}
