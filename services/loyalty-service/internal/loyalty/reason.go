package loyalty

import (
	"fmt"
	"strings"
)

// Reason tags every point mutation. The set is closed.
type Reason string

const (
	ReasonPurchase     Reason = "purchase"
	ReasonReferral     Reason = "referral"
	ReasonBirthday     Reason = "birthday"
	ReasonReview       Reason = "review"
	ReasonConsecutive3 Reason = "consecutive_3"
	ReasonConsecutive7 Reason = "consecutive_7"
)

var reasons = map[Reason]bool{
	ReasonPurchase:     true,
	ReasonReferral:     true,
	ReasonBirthday:     true,
	ReasonReview:       true,
	ReasonConsecutive3: true,
	ReasonConsecutive7: true,
}

func ParseReason(s string) (Reason, error) {
	r := Reason(strings.ToLower(strings.TrimSpace(s)))
	if !reasons[r] {
		return "", fmt.Errorf("%w: unknown reason %q", ErrInvalidArgument, s)
	}
	return r, nil
}

func (r Reason) Valid() bool { return reasons[r] }

// Bonus amounts.
const (
	BirthdayBonus     = 100
	ReviewBonus       = 20
	ReferralBonus     = 100
	StreakBonusShort  = 15
	StreakBonusLong   = 30
	StreakShortLength = 3
	StreakLongLength  = 7
)
