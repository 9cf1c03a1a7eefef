package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
)

type Handler struct {
	svc      *loyalty.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func New(svc *loyalty.Service, logger *slog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return &Handler{svc: svc, logger: logger, validate: v}
}

// Register mounts the loyalty routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/loyalty/tiers", h.Tiers)
	mux.Handle("/api/v1/loyalty/account", httpx.RequireTenant(http.HandlerFunc(h.Account)))
	mux.Handle("/api/v1/loyalty/account/birthday", httpx.RequireTenant(http.HandlerFunc(h.SetBirthday)))
	mux.Handle("/api/v1/loyalty/points", httpx.RequireTenant(http.HandlerFunc(h.AddPoints)))
	mux.Handle("/api/v1/loyalty/bonus/birthday", httpx.RequireTenant(http.HandlerFunc(h.BirthdayBonus)))
	mux.Handle("/api/v1/loyalty/bonus/streak", httpx.RequireTenant(http.HandlerFunc(h.StreakBonus)))
	mux.Handle("/api/v1/loyalty/bonus/review", httpx.RequireTenant(http.HandlerFunc(h.ReviewBonus)))
	mux.Handle("/api/v1/loyalty/referral", httpx.RequireTenant(http.HandlerFunc(h.Referral)))
}

func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tiers": h.svc.Tiers()})
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	key, err := loyalty.NewAccountKey(httpx.TenantID(r), r.URL.Query().Get("customer"))
	if err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.svc.GetAccount(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type customerRequest struct {
	Customer string `json:"customer" validate:"required,max=254"`
}

type addPointsRequest struct {
	Customer    string `json:"customer" validate:"required,max=254"`
	Points      int    `json:"points" validate:"gte=0,lte=1000000"`
	Reason      string `json:"reason" validate:"required,oneof=purchase referral birthday review consecutive_3 consecutive_7"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0,lte=100000000"`
}

func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	var req addPointsRequest
	key, ok := h.decode(w, r, &req, func() string { return req.Customer })
	if !ok {
		return
	}
	reason, err := loyalty.ParseReason(req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.svc.AddPoints(r.Context(), key, loyalty.Accrual{Points: req.Points, Reason: reason, AmountCents: req.AmountCents})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type birthdayRequest struct {
	Customer string `json:"customer" validate:"required,max=254"`
	Birthday string `json:"birthday" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) SetBirthday(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPut) {
		return
	}
	var req birthdayRequest
	key, ok := h.decode(w, r, &req, func() string { return req.Customer })
	if !ok {
		return
	}
	birthday, err := time.Parse(time.DateOnly, req.Birthday)
	if err != nil {
		http.Error(w, "invalid birthday", http.StatusBadRequest)
		return
	}
	res, err := h.svc.SetBirthday(r.Context(), key, birthday)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) BirthdayBonus(w http.ResponseWriter, r *http.Request) {
	h.bonus(w, r, h.svc.CheckBirthdayBonus)
}

func (h *Handler) StreakBonus(w http.ResponseWriter, r *http.Request) {
	h.bonus(w, r, h.svc.CheckConsecutiveOrdersBonus)
}

func (h *Handler) ReviewBonus(w http.ResponseWriter, r *http.Request) {
	h.bonus(w, r, h.svc.ApplyReviewBonus)
}

type referralRequest struct {
	Customer string `json:"customer" validate:"required,max=254"`
	Code     string `json:"code" validate:"required,alphanum,max=32"`
}

func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	var req referralRequest
	key, ok := h.decode(w, r, &req, func() string { return req.Customer })
	if !ok {
		return
	}
	res, err := h.svc.ApplyReferralCode(r.Context(), key, req.Code)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) bonus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, key loyalty.AccountKey) (loyalty.Result, error)) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	var req customerRequest
	key, ok := h.decode(w, r, &req, func() string { return req.Customer })
	if !ok {
		return
	}
	res, err := op(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// decode reads and validates the body into req and builds the account key
// from the caller's tenant and the customer field.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any, customer func() string) (loyalty.AccountKey, bool) {
	if err := httpx.DecodeJSON(r, req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return loyalty.AccountKey{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return loyalty.AccountKey{}, false
	}
	key, err := loyalty.NewAccountKey(httpx.TenantID(r), customer())
	if err != nil {
		h.fail(w, err)
		return loyalty.AccountKey{}, false
	}
	return key, true
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

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loyalty.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, loyalty.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, loyalty.ErrPersistenceUnavailable):
		h.logger.Error("loyalty store unavailable", "err", err)
		http.Error(w, "loyalty store unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("loyalty request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
