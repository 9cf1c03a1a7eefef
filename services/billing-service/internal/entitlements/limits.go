// Package entitlements maps a subscription plan to usage limits and renders
// the copy shown when a tenant approaches or reaches one of them.
package entitlements

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// Limits are the per-plan ceilings. Each value is a non-negative count or
// Unlimited.
type Limits struct {
	OrdersPerMonth int `yaml:"orders_per_month" json:"orders_per_month"`
	Products       int `yaml:"products" json:"products"`
	Collaborators  int `yaml:"collaborators" json:"collaborators"`
	Locations      int `yaml:"locations" json:"locations"`
}

type Kind string

const (
	KindOrders        Kind = "orders"
	KindCollaborators Kind = "collaborators"
	KindProducts      Kind = "products"
	KindLocations     Kind = "locations"
)

// Kinds lists every limit kind in display order.
var Kinds = []Kind{KindOrders, KindProducts, KindCollaborators, KindLocations}

var ErrUnknownKind = errors.New("unknown limit kind")

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindOrders, KindCollaborators, KindProducts, KindLocations:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Purchasable reports whether extra volume for k can be bought as an add-on.
// Every other kind requires a plan upgrade.
func (k Kind) Purchasable() bool {
	return k == KindOrders
}

// Monthly reports whether usage of k resets every calendar month.
func (k Kind) Monthly() bool {
	return k == KindOrders
}

// For returns the limit for kind.
func (l Limits) For(kind Kind) (int, error) {
	switch kind {
	case KindOrders:
		return l.OrdersPerMonth, nil
	case KindProducts:
		return l.Products, nil
	case KindCollaborators:
		return l.Collaborators, nil
	case KindLocations:
		return l.Locations, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (l Limits) valid() bool {
	for _, v := range []int{l.OrdersPerMonth, l.Products, l.Collaborators, l.Locations} {
		if v < Unlimited {
			return false
		}
	}
	return true
}

// EffectiveLimit adds purchased add-on volume to a base limit. Unlimited
// stays Unlimited whatever the add-on.
func EffectiveLimit(base, addon int) int {
	if base == Unlimited {
		return Unlimited
	}
	if addon < 0 {
		addon = 0
	}
	return base + addon
}

// PercentUsed returns current/limit as a rounded percentage in [0,100].
// Unlimited and zero limits report 0.
func PercentUsed(limit, current int) int {
	if limit <= 0 {
		return 0
	}
	p := int(math.Round(float64(current) / float64(limit) * 100))
	return min(100, max(0, p))
}

type Level string

const (
	LevelUnder   Level = "under"
	LevelNear    Level = "near"
	LevelAtLimit Level = "at_limit"
)

// NearThresholdPercent is where a limit starts being reported as LevelNear.
const NearThresholdPercent = 80

func LevelFor(limit, current int) Level {
	switch {
	case limit == Unlimited:
		return LevelUnder
	case current >= limit:
		return LevelAtLimit
	case current*100 >= limit*NearThresholdPercent:
		return LevelNear
	default:
		return LevelUnder
	}
}
