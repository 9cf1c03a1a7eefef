package loyalty

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
)

// AccountKey identifies an account: one per customer per tenant.
type AccountKey struct {
	TenantID string `json:"tenant_id"`
	Customer string `json:"customer"`
}

func (k AccountKey) String() string { return k.TenantID + "/" + k.Customer }

// NewAccountKey validates the tenant and normalizes the customer identifier:
// emails are lowercased, phone numbers are reduced to their digits.
func NewAccountKey(tenantID, customer string) (AccountKey, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return AccountKey{}, fmt.Errorf("%w: tenant is required", ErrInvalidArgument)
	}
	c, err := NormalizeCustomer(customer)
	if err != nil {
		return AccountKey{}, err
	}
	return AccountKey{TenantID: tenantID, Customer: c}, nil
}

func NormalizeCustomer(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return strings.ToLower(raw), nil
	}
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() < 8 {
		return "", fmt.Errorf("%w: customer must be an email or phone number", ErrInvalidArgument)
	}
	return b.String(), nil
}

type Account struct {
	TenantID               string    `json:"tenant_id"`
	Customer               string    `json:"customer"`
	Points                 int       `json:"points"`
	TotalSpentCents        int64     `json:"total_spent_cents"`
	Tier                   tiers.Key `json:"tier"`
	ConsecutiveDays        int       `json:"consecutive_days"`
	LastOrderDate          time.Time `json:"last_order_date,omitzero"`
	Birthday               time.Time `json:"birthday,omitzero"`
	ReferralCode           string    `json:"referral_code"`
	ReferredBy             string    `json:"referred_by,omitempty"`
	LastBirthdayBonus      int       `json:"last_birthday_bonus,omitempty"`
	LastConsecutiveBonusAt int       `json:"last_consecutive_bonus_at"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (a Account) Key() AccountKey {
	return AccountKey{TenantID: a.TenantID, Customer: a.Customer}
}

// Initialized reports whether the account has been through NewAccount or
// was loaded from a store after creation.
func (a Account) Initialized() bool { return a.ReferralCode != "" }

// NewReferralCode returns an 8 character uppercase code.
func NewReferralCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:8])
}

func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Date truncates t to midnight of its calendar day in loc.
func Date(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b using each value's own
// year, month and day. Stored dates keep their calendar fields whatever
// location they come back in.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
