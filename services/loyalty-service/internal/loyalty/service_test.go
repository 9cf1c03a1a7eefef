package loyalty_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *loyalty.Service
	store *storage.MemoryStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemoryStore(),
		now:   time.Date(2026, 7, 14, 19, 30, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = loyalty.NewService(f.store, loyalty.NewEngine(tiers.Default(), time.UTC), logger, loyalty.Config{
		PointsPerCurrencyUnit: 1,
		Now:                   func() time.Time { return f.now },
	})
	return f
}

func key(t *testing.T, customer string) loyalty.AccountKey {
	t.Helper()
	k, err := loyalty.NewAccountKey("pizzaria-centro", customer)
	require.NoError(t, err)
	return k
}

func TestGetAccountCreatesZeroState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GetAccount(ctx, key(t, "alice@example.com"))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Account.Points)
	assert.Equal(t, tiers.Bronze, res.Account.Tier.Key)
	require.NotNil(t, res.Account.PointsToNextTier)
	assert.Equal(t, 100, *res.Account.PointsToNextTier)
	assert.Len(t, res.Account.ReferralCode, 8)

	again, err := f.svc.GetAccount(ctx, key(t, "ALICE@example.com"))
	require.NoError(t, err)
	assert.Equal(t, res.Account.ReferralCode, again.Account.ReferralCode)
}

func TestAddPointsEmitsCreditAndTierEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(t, "alice@example.com")

	res, err := f.svc.AddPoints(ctx, k, loyalty.Accrual{Points: 120, Reason: loyalty.ReasonPurchase, AmountCents: 12000})
	require.NoError(t, err)
	assert.Equal(t, 120, res.Account.Points)
	assert.Equal(t, int64(12000), res.Account.TotalSpentCents)
	assert.Equal(t, tiers.Silver, res.Account.Tier.Key)
	assert.Equal(t, 5, res.Account.DiscountPercent)

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, loyalty.EventPointsCredited, events[0].Type)
	assert.Equal(t, loyalty.EventTierChanged, events[1].Type)
	assert.Equal(t, loyalty.TierChangedPayload{
		TenantID: "pizzaria-centro", Customer: "alice@example.com", From: "bronze", To: "silver", Points: 120,
	}, events[1].Payload)

	_, err = f.svc.AddPoints(ctx, k, loyalty.Accrual{Points: -5, Reason: loyalty.ReasonReview})
	assert.ErrorIs(t, err, loyalty.ErrInvalidArgument)
	_, err = f.svc.AddPoints(ctx, k, loyalty.Accrual{Points: 5, Reason: "gift"})
	assert.ErrorIs(t, err, loyalty.ErrInvalidArgument)
}

func TestRecordPurchaseGrantsStreakBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(t, "11 99999-0000")

	for day := 0; day < 3; day++ {
		_, err := f.svc.RecordPurchase(ctx, k, loyalty.Purchase{AmountCents: 4590, At: f.now.AddDate(0, 0, day)})
		require.NoError(t, err)
	}
	res, err := f.svc.GetAccount(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Account.ConsecutiveDays)
	assert.Equal(t, 3*45+loyalty.StreakBonusShort, res.Account.Points)
	assert.Equal(t, int64(3*4590), res.Account.TotalSpentCents)
}

func TestRecordPurchaseAppliesEventOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(t, "alice@example.com")
	p := loyalty.Purchase{AmountCents: 5000, At: f.now, EventID: "evt-42", EventType: "order.completed.v1"}

	_, err := f.svc.RecordPurchase(ctx, k, p)
	require.NoError(t, err)
	_, err = f.svc.RecordPurchase(ctx, k, p)
	require.ErrorIs(t, err, loyalty.ErrDuplicateEvent)

	res, err := f.svc.GetAccount(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Account.Points)
	assert.Equal(t, int64(5000), res.Account.TotalSpentCents)
	assert.Len(t, f.store.Events(), 1)
}

func TestCheckBirthdayBonusIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(t, "alice@example.com")

	_, err := f.svc.SetBirthday(ctx, k, time.Date(1991, 7, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	first, err := f.svc.CheckBirthdayBonus(ctx, k)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 100, first.Account.Points)

	second, err := f.svc.CheckBirthdayBonus(ctx, k)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.NotEmpty(t, second.Message)
	assert.Equal(t, 100, second.Account.Points)

	_, err = f.svc.SetBirthday(ctx, k, f.now.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, loyalty.ErrInvalidArgument)
}

func TestCheckConsecutiveOrdersBonusWithoutStreak(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CheckConsecutiveOrdersBonus(context.Background(), key(t, "alice@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, f.store.Events())
}

func TestApplyReviewBonus(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ApplyReviewBonus(context.Background(), key(t, "alice@example.com"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 20, res.Account.Points)
}

func TestApplyReferralCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := key(t, "alice@example.com")
	referee := key(t, "bob@example.com")

	created, err := f.svc.GetAccount(ctx, referrer)
	require.NoError(t, err)
	code := created.Account.ReferralCode

	miss, err := f.svc.ApplyReferralCode(ctx, referee, "NOPE1234")
	require.NoError(t, err)
	assert.False(t, miss.Success)

	self, err := f.svc.ApplyReferralCode(ctx, referrer, code)
	require.NoError(t, err)
	assert.False(t, self.Success)

	res, err := f.svc.ApplyReferralCode(ctx, referee, " "+code+" ")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 100, res.Account.Points)
	assert.Equal(t, code, res.Account.ReferredBy)

	ref, err := f.svc.GetAccount(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, 100, ref.Account.Points)

	repeat, err := f.svc.ApplyReferralCode(ctx, referee, code)
	require.NoError(t, err)
	assert.False(t, repeat.Success)

	ref, err = f.svc.GetAccount(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, 100, ref.Account.Points, "a rejected referral must not credit anyone")
}

func TestReferralAcrossTenantsIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.GetAccount(ctx, key(t, "alice@example.com"))
	require.NoError(t, err)

	other, err := loyalty.NewAccountKey("pizzaria-norte", "bob@example.com")
	require.NoError(t, err)
	res, err := f.svc.ApplyReferralCode(ctx, other, created.Account.ReferralCode)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDegradedResponsesAreFlagged(t *testing.T) {
	primary, secondary := storage.NewMemoryStore(), storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewFallbackStore(primary, secondary, logger)
	svc := loyalty.NewService(store, loyalty.NewEngine(tiers.Default(), time.UTC), logger, loyalty.Config{})
	ctx := context.Background()
	k := key(t, "alice@example.com")

	res, err := svc.ApplyReviewBonus(ctx, k)
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	primary.Err = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	res, err = svc.ApplyReviewBonus(ctx, k)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 40, res.Account.Points)

	secondary.Err = errors.New("redis down")
	_, err = svc.ApplyReviewBonus(ctx, k)
	assert.ErrorIs(t, err, loyalty.ErrPersistenceUnavailable)
}
