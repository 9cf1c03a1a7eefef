package entitlements

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsForNormalizesPlanName(t *testing.T) {
	c := DefaultCatalog()

	free, ok := c.LimitsFor("free")
	require.True(t, ok)
	for _, name := range []string{"FREE ", " Free", "fReE"} {
		got, ok := c.LimitsFor(name)
		require.True(t, ok, name)
		assert.Equal(t, free, got, name)
	}
}

func TestLimitsForCustomUnknownAndAlias(t *testing.T) {
	c := DefaultCatalog()

	_, ok := c.LimitsFor("custom")
	assert.False(t, ok)
	_, ok = c.LimitsFor("  CUSTOM ")
	assert.False(t, ok)
	_, ok = c.LimitsFor("")
	assert.False(t, ok)

	basic, ok := c.LimitsFor("basic")
	require.True(t, ok)
	unknown, ok := c.LimitsFor("totally-unknown")
	require.True(t, ok)
	assert.Equal(t, basic, unknown)

	ultra, _ := c.LimitsFor("ultra")
	premium, ok := c.LimitsFor("Premium")
	require.True(t, ok)
	assert.Equal(t, ultra, premium)
	assert.Equal(t, Unlimited, premium.OrdersPerMonth)
}

func TestEffectiveLimit(t *testing.T) {
	c := DefaultCatalog()
	ultra, _ := c.LimitsFor("ultra")
	basic, _ := c.LimitsFor("basic")

	assert.Equal(t, Unlimited, EffectiveLimit(ultra.OrdersPerMonth, 3000))
	assert.Equal(t, 600, basic.OrdersPerMonth)
	assert.Equal(t, 1600, EffectiveLimit(basic.OrdersPerMonth, 1000))
	assert.Equal(t, 600, EffectiveLimit(basic.OrdersPerMonth, 0))
	assert.Equal(t, 600, EffectiveLimit(basic.OrdersPerMonth, -50))
}

func TestPercentUsed(t *testing.T) {
	cases := []struct {
		limit, current, want int
	}{
		{100, 80, 80},
		{100, 0, 0},
		{100, 150, 100},
		{3, 2, 67},
		{600, 3, 1},
		{0, 10, 0},
		{Unlimited, 0, 0},
		{Unlimited, 99999, 0},
		{100, -5, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PercentUsed(tc.limit, tc.current), "limit=%d current=%d", tc.limit, tc.current)
	}
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelUnder, LevelFor(100, 79))
	assert.Equal(t, LevelNear, LevelFor(100, 80))
	assert.Equal(t, LevelNear, LevelFor(100, 99))
	assert.Equal(t, LevelAtLimit, LevelFor(100, 100))
	assert.Equal(t, LevelAtLimit, LevelFor(100, 140))
	assert.Equal(t, LevelUnder, LevelFor(Unlimited, 1_000_000))
	assert.Equal(t, LevelAtLimit, LevelFor(0, 0))
}

func TestFormatLimitCopy(t *testing.T) {
	out := FormatLimitCopy("Plano {PLANO}, limite {LIMITE}, usados {USADOS}", CopyValues{Plan: "Pro", Limit: "3000", Used: "2990"})
	assert.Equal(t, "Plano Pro, limite 3000, usados 2990", out)
	assert.NotContains(t, out, "{")

	// Order independent and repeated tokens.
	out = FormatLimitCopy("{USADOS}/{LIMITE} {USADOS} ({PLANO})", CopyValues{Plan: "Pro", Limit: "10", Used: "7"})
	assert.Equal(t, "7/10 7 (Pro)", out)

	// Missing values render empty.
	assert.Equal(t, "Plano , limite ", FormatLimitCopy("Plano {PLANO}, limite {LIMITE}", CopyValues{}))

	// Values are not rescanned.
	assert.Equal(t, "{LIMITE}", FormatLimitCopy("{PLANO}", CopyValues{Plan: "{LIMITE}", Limit: "x"}))
}

func TestCopyForOnlyOrdersHaveSecondaryCTA(t *testing.T) {
	c := DefaultCatalog()
	for _, k := range Kinds {
		cp, err := c.CopyFor(k)
		require.NoError(t, err)
		assert.NotEmpty(t, cp.Title)
		assert.NotEmpty(t, cp.CTA)
		if k == KindOrders {
			assert.NotEmpty(t, cp.SecondaryCTA)
			assert.True(t, k.Purchasable())
		} else {
			assert.Empty(t, cp.SecondaryCTA, k)
			assert.False(t, k.Purchasable(), k)
		}
	}

	_, err := c.CopyFor(Kind("tables"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Orders ")
	require.NoError(t, err)
	assert.Equal(t, KindOrders, k)

	_, err = ParseKind("seats")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEvaluate(t *testing.T) {
	c := DefaultCatalog()

	chk, ok, err := c.Evaluate("basic", KindOrders, 1300, 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 600, chk.Limit)
	assert.Equal(t, 1000, chk.AddOn)
	assert.Equal(t, 1600, chk.EffectiveLimit)
	assert.Equal(t, 81, chk.PercentUsed)
	assert.Equal(t, LevelNear, chk.Level)
	assert.True(t, chk.Allows(300))
	assert.False(t, chk.Allows(301))
	require.NotNil(t, chk.Copy)
	assert.Contains(t, chk.Copy.Message, "Básico")
	assert.Contains(t, chk.Copy.Message, "1600")
	assert.Contains(t, chk.Copy.Message, "1300")
	assert.NotEmpty(t, chk.Copy.SecondaryCTA)

	chk, ok, err = c.Evaluate("pro", KindProducts, 10, 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, chk.AddOn, "add-ons only extend orders")
	assert.Equal(t, 500, chk.EffectiveLimit)
	assert.Equal(t, LevelUnder, chk.Level)
	assert.Nil(t, chk.Copy)

	chk, ok, err = c.Evaluate("premium", KindOrders, 50000, 3000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Unlimited, chk.EffectiveLimit)
	assert.Equal(t, 0, chk.PercentUsed)
	assert.True(t, chk.Allows(1))

	chk, ok, err = c.Evaluate("free", KindCollaborators, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, LevelAtLimit, chk.Level)
	assert.False(t, chk.Allows(1))
	require.NotNil(t, chk.Copy)
	assert.Empty(t, chk.Copy.SecondaryCTA)

	_, ok, err = c.Evaluate("custom", KindOrders, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadCatalog(t *testing.T) {
	src := `
plans:
  - name: Basic
    display_name: Básico
    limits: {orders_per_month: 10, products: 5, collaborators: 1, locations: 1}
  - name: max
    limits: {orders_per_month: -1, products: -1, collaborators: -1, locations: -1}
aliases:
  gold: max
addons:
  - {orders: 100, price_cents: 990, price_label: "R$ 9,90"}
copy:
  orders: {title: a, message: "{USADOS}/{LIMITE}", cta: up, secondary_cta: buy}
  products: {title: b, message: m, cta: up, secondary_cta: ignored}
  collaborators: {title: c, message: m, cta: up}
  locations: {title: d, message: m, cta: up}
`
	c, err := LoadCatalog(strings.NewReader(src))
	require.NoError(t, err)

	l, ok := c.LimitsFor("GOLD")
	require.True(t, ok)
	assert.Equal(t, Unlimited, l.Products)

	l, ok = c.LimitsFor("whatever")
	require.True(t, ok)
	assert.Equal(t, 10, l.OrdersPerMonth)

	cp, err := c.CopyFor(KindProducts)
	require.NoError(t, err)
	assert.Empty(t, cp.SecondaryCTA)

	a, ok := c.AddOn(100)
	require.True(t, ok)
	assert.Equal(t, int64(990), a.PriceCents)
	_, ok = c.AddOn(1000)
	assert.False(t, ok)
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	base := defaultConfig()

	noBasic := defaultConfig()
	noBasic.Plans = noBasic.Plans[2:]
	_, err := NewCatalog(noBasic)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	custom := defaultConfig()
	custom.Plans = append(custom.Plans, Plan{Name: "Custom"})
	_, err = NewCatalog(custom)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	negative := defaultConfig()
	negative.Plans[0].Limits.Products = -2
	_, err = NewCatalog(negative)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	danglingAlias := defaultConfig()
	danglingAlias.Aliases = map[string]string{"gold": "platinum"}
	_, err = NewCatalog(danglingAlias)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	missingCopy := defaultConfig()
	delete(missingCopy.Copy, KindLocations)
	_, err = NewCatalog(missingCopy)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = NewCatalog(base)
	assert.NoError(t, err)
}

func TestCatalogAccessorsReturnCopies(t *testing.T) {
	c := DefaultCatalog()
	plans := c.Plans()
	plans[0].Limits.OrdersPerMonth = 1
	free, _ := c.LimitsFor("free")
	assert.Equal(t, 50, free.OrdersPerMonth)

	addons := c.AddOns()
	require.Len(t, addons, 3)
	addons[0].Orders = 7
	_, ok := c.AddOn(1000)
	assert.True(t, ok)
}

func TestDefaultAddOnsArePricedAsOneOff(t *testing.T) {
	for _, a := range DefaultCatalog().AddOns() {
		assert.NotContains(t, a.PriceLabel, "/mês", a.Orders)
		assert.Contains(t, a.PriceLabel, "pagamento único", a.Orders)
	}
}
