package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FallbackStore serves from primary and switches to secondary when primary
// is unreachable. Errors where primary rejected the data are returned as is;
// secondary must never hold state the source of truth refused. Every switch
// is logged, counted and flagged on the context so the
// caller can report a degraded response. Successful primary updates are
// mirrored into secondary so it stays warm.
type FallbackStore struct {
	primary   loyalty.AccountStore
	secondary loyalty.AccountStore
	logger    *slog.Logger
	fallbacks metric.Int64Counter
}

func NewFallbackStore(primary, secondary loyalty.AccountStore, logger *slog.Logger) *FallbackStore {
	counter, err := otel.Meter("loyalty-service/storage").Int64Counter(
		"loyalty_store_fallback_total",
		metric.WithDescription("Account store calls served by the fallback store"),
	)
	if err != nil {
		logger.Warn("fallback counter unavailable", "err", err)
	}
	return &FallbackStore{primary: primary, secondary: secondary, logger: logger, fallbacks: counter}
}

func (s *FallbackStore) Get(ctx context.Context, key loyalty.AccountKey) (loyalty.Account, bool, error) {
	acct, ok, err := s.primary.Get(ctx, key)
	if err == nil {
		return acct, ok, nil
	}
	if !outage(err) {
		return loyalty.Account{}, false, err
	}
	s.degrade(ctx, "get", err)
	acct, ok, err2 := s.secondary.Get(ctx, key)
	if err2 != nil {
		return loyalty.Account{}, false, unavailable(err, err2)
	}
	return acct, ok, nil
}

func (s *FallbackStore) Put(ctx context.Context, acct loyalty.Account) error {
	err := s.primary.Put(ctx, acct)
	if err == nil {
		s.mirror(ctx, acct)
		return nil
	}
	if !outage(err) {
		return err
	}
	s.degrade(ctx, "put", err)
	if err2 := s.secondary.Put(ctx, acct); err2 != nil {
		return unavailable(err, err2)
	}
	return nil
}

func (s *FallbackStore) FindByReferralCode(ctx context.Context, tenantID, code string) (loyalty.Account, bool, error) {
	acct, ok, err := s.primary.FindByReferralCode(ctx, tenantID, code)
	if err == nil {
		return acct, ok, nil
	}
	if !outage(err) {
		return loyalty.Account{}, false, err
	}
	s.degrade(ctx, "find_referral", err)
	acct, ok, err2 := s.secondary.FindByReferralCode(ctx, tenantID, code)
	if err2 != nil {
		return loyalty.Account{}, false, unavailable(err, err2)
	}
	return acct, ok, nil
}

func (s *FallbackStore) Update(ctx context.Context, keys []loyalty.AccountKey, fn loyalty.UpdateFunc, opts ...loyalty.UpdateOption) error {
	var (
		fnErr   error
		written []loyalty.Account
	)
	wrapped := func(accts []*loyalty.Account) ([]loyalty.Event, error) {
		events, err := fn(accts)
		fnErr = err
		written = written[:0]
		for _, a := range accts {
			written = append(written, *a)
		}
		return events, err
	}

	err := s.primary.Update(ctx, keys, wrapped, opts...)
	if err == nil {
		for _, acct := range written {
			s.mirror(ctx, acct)
		}
		return nil
	}
	if fnErr != nil || !outage(err) {
		return err
	}

	s.degrade(ctx, "update", err)
	fnErr = nil
	err2 := s.secondary.Update(ctx, keys, wrapped, opts...)
	if err2 == nil || fnErr != nil || errors.Is(err2, loyalty.ErrDuplicateEvent) {
		return err2
	}
	return unavailable(err, err2)
}

func (s *FallbackStore) degrade(ctx context.Context, op string, err error) {
	loyalty.MarkDegraded(ctx)
	s.logger.Warn("account store fallback", "op", op, "err", err)
	if s.fallbacks != nil {
		s.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

func (s *FallbackStore) mirror(ctx context.Context, acct loyalty.Account) {
	if err := s.secondary.Put(ctx, acct); err != nil {
		s.logger.Debug("account cache mirror failed", "err", err)
	}
}

// outage reports whether a primary error should be served from secondary.
func outage(err error) bool {
	return errors.Is(err, loyalty.ErrPersistenceUnavailable) || db.IsUnavailable(err)
}

func unavailable(primary, secondary error) error {
	return fmt.Errorf("%w: %w", loyalty.ErrPersistenceUnavailable, errors.Join(primary, secondary))
}
