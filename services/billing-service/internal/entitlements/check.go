package entitlements

import (
	"strconv"
	"strings"
)

// CopyValues fill the {PLANO}, {LIMITE} and {USADOS} placeholders. Empty
// fields render as empty strings.
type CopyValues struct {
	Plan  string
	Limit string
	Used  string
}

// FormatLimitCopy substitutes the placeholders in template in a single
// pass. Substituted values are not rescanned and nothing is escaped.
func FormatLimitCopy(template string, v CopyValues) string {
	return strings.NewReplacer(
		"{PLANO}", v.Plan,
		"{LIMITE}", v.Limit,
		"{USADOS}", v.Used,
	).Replace(template)
}

// FormatLimit renders a limit for copy. Unlimited reads "ilimitado".
func FormatLimit(limit int) string {
	if limit == Unlimited {
		return "ilimitado"
	}
	return strconv.Itoa(limit)
}

// Render applies v to every field of cp.
func (cp Copy) Render(v CopyValues) Copy {
	return Copy{
		Title:        FormatLimitCopy(cp.Title, v),
		Message:      FormatLimitCopy(cp.Message, v),
		CTA:          FormatLimitCopy(cp.CTA, v),
		SecondaryCTA: FormatLimitCopy(cp.SecondaryCTA, v),
	}
}

// Check is the evaluation of one limit kind for a tenant.
type Check struct {
	Kind           Kind   `json:"kind"`
	Plan           string `json:"plan"`
	Limit          int    `json:"limit"`
	AddOn          int    `json:"addon"`
	EffectiveLimit int    `json:"effective_limit"`
	Used           int    `json:"used"`
	PercentUsed    int    `json:"percent_used"`
	Level          Level  `json:"level"`
	Purchasable    bool   `json:"purchasable"`
	Copy           *Copy  `json:"copy,omitempty"`
}

// Allows reports whether delta more units fit under the effective limit.
func (c Check) Allows(delta int) bool {
	if c.EffectiveLimit == Unlimited || delta <= 0 {
		return true
	}
	return c.Used+delta <= c.EffectiveLimit
}

// Evaluate composes the plan lookup, the add-on, the usage percentage and
// the threshold level for one kind. Add-on volume only counts for orders.
// Copy is rendered once the level leaves LevelUnder. It reports false for
// plans without generic limits.
func (c Catalog) Evaluate(plan string, kind Kind, used, addonOrders int) (Check, bool, error) {
	p, ok := c.Resolve(plan)
	if !ok {
		return Check{}, false, nil
	}
	limit, err := p.Limits.For(kind)
	if err != nil {
		return Check{}, false, err
	}
	addon := 0
	if kind.Purchasable() {
		addon = max(0, addonOrders)
	}
	effective := EffectiveLimit(limit, addon)
	if limit == Unlimited {
		addon = 0
	}

	chk := Check{
		Kind:           kind,
		Plan:           p.Name,
		Limit:          limit,
		AddOn:          addon,
		EffectiveLimit: effective,
		Used:           used,
		PercentUsed:    PercentUsed(effective, used),
		Level:          LevelFor(effective, used),
		Purchasable:    kind.Purchasable(),
	}
	if chk.Level != LevelUnder {
		cp := c.copy[kind].Render(CopyValues{
			Plan:  p.DisplayName,
			Limit: FormatLimit(effective),
			Used:  strconv.Itoa(used),
		})
		chk.Copy = &cp
	}
	return chk, true, nil
}
