package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
)

// View is the read model returned to callers.
type View struct {
	TenantID         string           `json:"tenant_id"`
	Customer         string           `json:"customer"`
	Points           int              `json:"points"`
	TotalSpentCents  int64            `json:"total_spent_cents"`
	Tier             tiers.Definition `json:"tier"`
	DiscountPercent  int              `json:"discount_percent"`
	PointsToNextTier *int             `json:"points_to_next_tier"`
	ConsecutiveDays  int              `json:"consecutive_days"`
	LastOrderDate    string           `json:"last_order_date,omitempty"`
	Birthday         string           `json:"birthday,omitempty"`
	ReferralCode     string           `json:"referral_code"`
	ReferredBy       string           `json:"referred_by,omitempty"`
}

// Result is the outcome of a bonus or referral attempt. Success=false is an
// expected outcome, not an error. Degraded is set when the fallback store
// served the call.
type Result struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message,omitempty"`
	Grants   []Grant `json:"grants,omitempty"`
	Account  *View   `json:"account,omitempty"`
	Degraded bool    `json:"degraded,omitempty"`
}

type Config struct {
	PointsPerCurrencyUnit int
	Now                   func() time.Time
}

type Service struct {
	store  AccountStore
	engine Engine
	logger *slog.Logger
	ppu    int
	now    func() time.Time
}

func NewService(store AccountStore, engine Engine, logger *slog.Logger, cfg Config) *Service {
	if cfg.PointsPerCurrencyUnit <= 0 {
		cfg.PointsPerCurrencyUnit = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, engine: engine, logger: logger, ppu: cfg.PointsPerCurrencyUnit, now: cfg.Now}
}

func (s *Service) Tiers() []tiers.Definition {
	return s.engine.Tiers().All()
}

func (s *Service) View(acct Account) View {
	table := s.engine.Tiers()
	tier := table.Calculate(acct.Points)
	v := View{
		TenantID:        acct.TenantID,
		Customer:        acct.Customer,
		Points:          acct.Points,
		TotalSpentCents: acct.TotalSpentCents,
		Tier:            tier,
		DiscountPercent: tier.DiscountPercent,
		ConsecutiveDays: acct.ConsecutiveDays,
		ReferralCode:    acct.ReferralCode,
		ReferredBy:      acct.ReferredBy,
	}
	if next, ok := table.PointsToNext(acct.Points); ok {
		v.PointsToNextTier = &next
	}
	if !acct.LastOrderDate.IsZero() {
		v.LastOrderDate = acct.LastOrderDate.Format(time.DateOnly)
	}
	if !acct.Birthday.IsZero() {
		v.Birthday = acct.Birthday.Format(time.DateOnly)
	}
	return v
}

// GetAccount returns the account for key, creating a zero-state account on
// first lookup.
func (s *Service) GetAccount(ctx context.Context, key AccountKey) (Result, error) {
	ctx, degraded := WithDegradedFlag(ctx)

	acct, found, err := s.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found || !acct.Initialized() {
		err = s.store.Update(ctx, []AccountKey{key}, func(accts []*Account) ([]Event, error) {
			s.engine.Init(accts[0], key, s.now())
			acct = *accts[0]
			return nil, nil
		})
		if err != nil {
			return Result{}, err
		}
	}
	v := s.View(acct)
	return Result{Success: true, Account: &v, Degraded: degraded.Load()}, nil
}

// AddPoints applies a single accrual.
func (s *Service) AddPoints(ctx context.Context, key AccountKey, a Accrual) (Result, error) {
	if !a.Reason.Valid() {
		return Result{}, fmt.Errorf("%w: unknown reason %q", ErrInvalidArgument, a.Reason)
	}
	if a.Points < 0 || a.AmountCents < 0 {
		return Result{}, fmt.Errorf("%w: points and amount must not be negative", ErrInvalidArgument)
	}
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		if err := s.engine.Apply(acct, a, now); err != nil {
			return nil, "", err
		}
		return []Grant{{Reason: a.Reason, Points: a.Points}}, "", nil
	})
}

// Purchase is a completed order to credit. EventID identifies the inbound
// event so a redelivered order is applied once.
type Purchase struct {
	AmountCents int64
	At          time.Time
	EventID     string
	EventType   string
}

// RecordPurchase credits a completed order and then evaluates the streak
// bonus in the same unit of work. A purchase whose event was already applied
// fails with ErrDuplicateEvent.
func (s *Service) RecordPurchase(ctx context.Context, key AccountKey, p Purchase) (Result, error) {
	if p.AmountCents < 0 {
		return Result{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}
	var opts []UpdateOption
	if p.EventID != "" {
		opts = append(opts, FromEvent(p.EventID, p.EventType))
	}
	points := PointsForPurchase(p.AmountCents, s.ppu)
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		at := p.At
		if at.IsZero() {
			at = now
		}
		if err := s.engine.Apply(acct, Accrual{Points: points, Reason: ReasonPurchase, AmountCents: p.AmountCents}, at); err != nil {
			return nil, "", err
		}
		grants := []Grant{{Reason: ReasonPurchase, Points: points}}
		if g, ok := s.engine.StreakBonus(acct, at); ok {
			grants = append(grants, g)
		}
		return grants, "", nil
	}, opts...)
}

func (s *Service) SetBirthday(ctx context.Context, key AccountKey, birthday time.Time) (Result, error) {
	if birthday.IsZero() {
		return Result{}, fmt.Errorf("%w: birthday is required", ErrInvalidArgument)
	}
	if birthday.After(s.now()) {
		return Result{}, fmt.Errorf("%w: birthday is in the future", ErrInvalidArgument)
	}
	day := time.Date(birthday.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		acct.Birthday = day
		acct.UpdatedAt = now
		return nil, "", nil
	})
}

func (s *Service) CheckBirthdayBonus(ctx context.Context, key AccountKey) (Result, error) {
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		if g, ok := s.engine.BirthdayBonus(acct, now); ok {
			return []Grant{g}, "", nil
		}
		return nil, "bônus de aniversário indisponível hoje", nil
	})
}

func (s *Service) CheckConsecutiveOrdersBonus(ctx context.Context, key AccountKey) (Result, error) {
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		if g, ok := s.engine.StreakBonus(acct, now); ok {
			return []Grant{g}, "", nil
		}
		return nil, "nenhum bônus de sequência disponível", nil
	})
}

func (s *Service) ApplyReviewBonus(ctx context.Context, key AccountKey) (Result, error) {
	return s.mutate(ctx, key, func(acct *Account, now time.Time) ([]Grant, string, error) {
		return []Grant{s.engine.ReviewBonus(acct, now)}, "", nil
	})
}

var (
	errSelfReferral    = errors.New("self referral")
	errAlreadyReferred = errors.New("already referred")
)

// ApplyReferralCode credits both the referred account and the referrer in a
// single store update. An unknown code is reported as Success=false.
func (s *Service) ApplyReferralCode(ctx context.Context, key AccountKey, code string) (Result, error) {
	ctx, degraded := WithDegradedFlag(ctx)
	code = NormalizeReferralCode(code)
	if code == "" {
		return Result{}, fmt.Errorf("%w: referral code is required", ErrInvalidArgument)
	}

	referrer, found, err := s.store.FindByReferralCode(ctx, key.TenantID, code)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Success: false, Message: "código de indicação não encontrado", Degraded: degraded.Load()}, nil
	}
	referrerKey := referrer.Key()
	if referrerKey == key {
		return Result{Success: false, Message: "não é possível usar o próprio código", Degraded: degraded.Load()}, nil
	}

	var view View
	now := s.now()
	err = s.store.Update(ctx, []AccountKey{key, referrerKey}, func(accts []*Account) ([]Event, error) {
		referee, ref := accts[0], accts[1]
		s.engine.Init(referee, key, now)
		if !ref.Initialized() || ref.ReferralCode != code {
			return nil, ErrNotFound
		}
		if referee.ReferredBy != "" {
			return nil, errAlreadyReferred
		}
		if referee.ReferralCode == code {
			return nil, errSelfReferral
		}

		var events []Event
		for _, acct := range []*Account{referee, ref} {
			before := acct.Tier
			if err := s.engine.Apply(acct, Accrual{Points: ReferralBonus, Reason: ReasonReferral}, now); err != nil {
				return nil, err
			}
			events = append(events, s.events(acct, before, []Grant{{Reason: ReasonReferral, Points: ReferralBonus}})...)
		}
		referee.ReferredBy = code
		view = s.View(*referee)
		return events, nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return Result{Success: false, Message: "código de indicação não encontrado", Degraded: degraded.Load()}, nil
	case errors.Is(err, errAlreadyReferred):
		return Result{Success: false, Message: "indicação já utilizada nesta conta", Degraded: degraded.Load()}, nil
	case errors.Is(err, errSelfReferral):
		return Result{Success: false, Message: "não é possível usar o próprio código", Degraded: degraded.Load()}, nil
	case err != nil:
		return Result{}, err
	}

	s.logger.Info("referral applied", "tenant_id", key.TenantID, "referrer", referrerKey.Customer)
	return Result{
		Success:  true,
		Grants:   []Grant{{Reason: ReasonReferral, Points: ReferralBonus}},
		Account:  &view,
		Degraded: degraded.Load(),
	}, nil
}

type mutation func(acct *Account, now time.Time) (grants []Grant, failure string, err error)

// mutate runs fn against a single account inside a store update. A non-empty
// failure message produces Success=false and skips events.
func (s *Service) mutate(ctx context.Context, key AccountKey, fn mutation, opts ...UpdateOption) (Result, error) {
	ctx, degraded := WithDegradedFlag(ctx)
	now := s.now()

	var (
		grants  []Grant
		failure string
		view    View
	)
	err := s.store.Update(ctx, []AccountKey{key}, func(accts []*Account) ([]Event, error) {
		acct := accts[0]
		s.engine.Init(acct, key, now)
		before := acct.Tier

		var err error
		grants, failure, err = fn(acct, now)
		if err != nil {
			return nil, err
		}
		view = s.View(*acct)
		return s.events(acct, before, grants), nil
	}, opts...)
	if err != nil {
		return Result{}, err
	}

	res := Result{Success: failure == "", Message: failure, Account: &view, Degraded: degraded.Load()}
	if res.Success {
		res.Grants = grants
	}
	return res, nil
}

func (s *Service) events(acct *Account, before tiers.Key, grants []Grant) []Event {
	var events []Event
	for _, g := range grants {
		if g.Points == 0 {
			continue
		}
		events = append(events, Event{
			Type:     EventPointsCredited,
			TenantID: acct.TenantID,
			Customer: acct.Customer,
			Payload: PointsCreditedPayload{
				TenantID: acct.TenantID,
				Customer: acct.Customer,
				Reason:   g.Reason,
				Points:   g.Points,
				Balance:  acct.Points,
				Tier:     string(acct.Tier),
			},
		})
	}
	if before != acct.Tier {
		events = append(events, Event{
			Type:     EventTierChanged,
			TenantID: acct.TenantID,
			Customer: acct.Customer,
			Payload: TierChangedPayload{
				TenantID: acct.TenantID,
				Customer: acct.Customer,
				From:     string(before),
				To:       string(acct.Tier),
				Points:   acct.Points,
			},
		})
	}
	return events
}
