package loyalty

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
)

// Accrual is a single point credit. AmountCents is the currency spent and
// only counts toward TotalSpentCents for purchases.
type Accrual struct {
	Points      int
	Reason      Reason
	AmountCents int64
}

// Engine applies accruals and bonus rules to accounts in memory. It holds no
// state beyond its injected tier table and store timezone.
type Engine struct {
	tiers tiers.Table
	loc   *time.Location
}

func NewEngine(table tiers.Table, loc *time.Location) Engine {
	if loc == nil {
		loc = time.UTC
	}
	return Engine{tiers: table, loc: loc}
}

func (e Engine) Tiers() tiers.Table       { return e.tiers }
func (e Engine) Location() *time.Location { return e.loc }

// Init fills in a zero-state account created lazily by a store.
func (e Engine) Init(acct *Account, key AccountKey, now time.Time) {
	acct.TenantID = key.TenantID
	acct.Customer = key.Customer
	if acct.ReferralCode == "" {
		acct.ReferralCode = NewReferralCode()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.Tier = e.tiers.Calculate(acct.Points).Key
}

// Apply credits a to acct. Purchases also move TotalSpentCents and the
// consecutive-day streak; a purchase dated before LastOrderDate leaves the
// streak and LastOrderDate alone. The tier is recomputed on every call.
func (e Engine) Apply(acct *Account, a Accrual, now time.Time) error {
	if !a.Reason.Valid() {
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidArgument, a.Reason)
	}
	if a.Points < 0 {
		return fmt.Errorf("%w: points must not be negative", ErrInvalidArgument)
	}
	if a.AmountCents < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}

	acct.Points += a.Points
	if a.Reason == ReasonPurchase {
		acct.TotalSpentCents += a.AmountCents
		today := Date(now, e.loc)
		switch gap := daysBetween(acct.LastOrderDate, today); {
		case acct.LastOrderDate.IsZero():
			acct.ConsecutiveDays++
			acct.LastOrderDate = today
		case gap < 0:
			// An order older than the last one counts points and spend only.
		case gap <= 1:
			acct.ConsecutiveDays++
			acct.LastOrderDate = today
		default:
			acct.ConsecutiveDays = 1
			acct.LastOrderDate = today
		}
	}
	acct.Tier = e.tiers.Calculate(acct.Points).Key
	acct.UpdatedAt = now
	return nil
}

// Grant is a bonus credited by one of the guards.
type Grant struct {
	Reason Reason `json:"reason"`
	Points int    `json:"points"`
}

// BirthdayBonus grants the birthday bonus at most once per calendar year,
// only on the account's birthday. Feb 29 birthdays fall on Feb 28 in
// non-leap years.
func (e Engine) BirthdayBonus(acct *Account, now time.Time) (Grant, bool) {
	if acct.Birthday.IsZero() {
		return Grant{}, false
	}
	today := Date(now, e.loc)
	if !isBirthday(acct.Birthday, today) || acct.LastBirthdayBonus >= today.Year() {
		return Grant{}, false
	}
	g := Grant{Reason: ReasonBirthday, Points: BirthdayBonus}
	_ = e.Apply(acct, Accrual{Points: g.Points, Reason: g.Reason}, now)
	acct.LastBirthdayBonus = today.Year()
	return g, true
}

func isBirthday(birthday, today time.Time) bool {
	month, day := birthday.Month(), birthday.Day()
	if month == time.February && day == 29 && !isLeap(today.Year()) {
		day = 28
	}
	return today.Month() == month && today.Day() == day
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// StreakBonus grants at most one streak milestone per call, checking the
// longer streak first. The milestone marker only moves forward.
func (e Engine) StreakBonus(acct *Account, now time.Time) (Grant, bool) {
	var g Grant
	switch {
	case acct.ConsecutiveDays >= StreakLongLength && acct.LastConsecutiveBonusAt < StreakLongLength:
		g = Grant{Reason: ReasonConsecutive7, Points: StreakBonusLong}
		acct.LastConsecutiveBonusAt = StreakLongLength
	case acct.ConsecutiveDays >= StreakShortLength && acct.LastConsecutiveBonusAt < StreakShortLength:
		g = Grant{Reason: ReasonConsecutive3, Points: StreakBonusShort}
		acct.LastConsecutiveBonusAt = StreakShortLength
	default:
		return Grant{}, false
	}
	_ = e.Apply(acct, Accrual{Points: g.Points, Reason: g.Reason}, now)
	return g, true
}

// ReviewBonus is unconditional; callers dedupe reviews.
func (e Engine) ReviewBonus(acct *Account, now time.Time) Grant {
	g := Grant{Reason: ReasonReview, Points: ReviewBonus}
	_ = e.Apply(acct, Accrual{Points: g.Points, Reason: g.Reason}, now)
	return g
}

// PointsForPurchase converts a purchase total into points.
func PointsForPurchase(amountCents int64, perCurrencyUnit int) int {
	if amountCents <= 0 || perCurrencyUnit <= 0 {
		return 0
	}
	return int(amountCents/100) * perCurrencyUnit
}
