package entitlements

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPro     = "pro"
	PlanUltra   = "ultra"
	PlanPremium = "premium"
	PlanCustom  = "custom"
)

type Plan struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Limits      Limits `yaml:"limits" json:"limits"`
}

// AddOn is extra monthly order volume sold on top of a plan.
type AddOn struct {
	Orders     int    `yaml:"orders" json:"orders"`
	PriceCents int64  `yaml:"price_cents" json:"price_cents"`
	PriceLabel string `yaml:"price_label" json:"price_label"`
}

// Copy is the user-facing text for a limit kind. Templates may contain
// {PLANO}, {LIMITE} and {USADOS}.
type Copy struct {
	Title        string `yaml:"title" json:"title"`
	Message      string `yaml:"message" json:"message"`
	CTA          string `yaml:"cta" json:"cta"`
	SecondaryCTA string `yaml:"secondary_cta" json:"secondary_cta,omitempty"`
}

// Catalog is the immutable plan table. Build it with DefaultCatalog,
// NewCatalog or LoadCatalog.
type Catalog struct {
	plans   []Plan
	byName  map[string]int
	aliases map[string]string
	addons  []AddOn
	copy    map[Kind]Copy
}

var ErrInvalidCatalog = errors.New("invalid plan catalog")

// CatalogConfig is the YAML shape of a catalog file.
type CatalogConfig struct {
	Plans   []Plan            `yaml:"plans"`
	Aliases map[string]string `yaml:"aliases"`
	AddOns  []AddOn           `yaml:"addons"`
	Copy    map[Kind]Copy     `yaml:"copy"`
}

func DefaultCatalog() Catalog {
	c, err := NewCatalog(defaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultConfig() CatalogConfig {
	return CatalogConfig{
		Plans: []Plan{
			{Name: PlanFree, DisplayName: "Grátis", Limits: Limits{OrdersPerMonth: 50, Products: 20, Collaborators: 1, Locations: 1}},
			{Name: PlanBasic, DisplayName: "Básico", Limits: Limits{OrdersPerMonth: 600, Products: 100, Collaborators: 3, Locations: 1}},
			{Name: PlanPro, DisplayName: "Pro", Limits: Limits{OrdersPerMonth: 3000, Products: 500, Collaborators: 10, Locations: 3}},
			{Name: PlanUltra, DisplayName: "Ultra", Limits: Limits{OrdersPerMonth: Unlimited, Products: Unlimited, Collaborators: 25, Locations: 10}},
		},
		Aliases: map[string]string{PlanPremium: PlanUltra},
		AddOns: []AddOn{
			{Orders: 1000, PriceCents: 4990, PriceLabel: "R$ 49,90 (pagamento único)"},
			{Orders: 3000, PriceCents: 12990, PriceLabel: "R$ 129,90 (pagamento único)"},
			{Orders: 5000, PriceCents: 19990, PriceLabel: "R$ 199,90 (pagamento único)"},
		},
		Copy: map[Kind]Copy{
			KindOrders: {
				Title:        "Limite de pedidos do mês",
				Message:      "Seu plano {PLANO} inclui {LIMITE} pedidos por mês e você já recebeu {USADOS}.",
				CTA:          "Fazer upgrade",
				SecondaryCTA: "Comprar pacote de pedidos",
			},
			KindProducts: {
				Title:   "Limite de produtos",
				Message: "Seu plano {PLANO} permite até {LIMITE} produtos no cardápio. Você já cadastrou {USADOS}.",
				CTA:     "Fazer upgrade",
			},
			KindCollaborators: {
				Title:   "Limite de colaboradores",
				Message: "Seu plano {PLANO} permite até {LIMITE} colaboradores. Sua equipe já tem {USADOS}.",
				CTA:     "Fazer upgrade",
			},
			KindLocations: {
				Title:   "Limite de unidades",
				Message: "Seu plano {PLANO} permite até {LIMITE} unidades. Você já tem {USADOS}.",
				CTA:     "Fazer upgrade",
			},
		},
	}
}

// NewCatalog validates cfg and copies it into a Catalog. The basic plan is
// required since unknown plan names resolve to it.
func NewCatalog(cfg CatalogConfig) (Catalog, error) {
	c := Catalog{
		byName:  make(map[string]int, len(cfg.Plans)),
		aliases: make(map[string]string, len(cfg.Aliases)),
		copy:    make(map[Kind]Copy, len(Kinds)),
	}
	for i, p := range cfg.Plans {
		p.Name = normalizePlan(p.Name)
		switch {
		case p.Name == "":
			return Catalog{}, fmt.Errorf("%w: plan %d has no name", ErrInvalidCatalog, i)
		case p.Name == PlanCustom:
			return Catalog{}, fmt.Errorf("%w: %q has no generic limits", ErrInvalidCatalog, PlanCustom)
		case !p.Limits.valid():
			return Catalog{}, fmt.Errorf("%w: plan %q has a negative limit", ErrInvalidCatalog, p.Name)
		}
		if _, dup := c.byName[p.Name]; dup {
			return Catalog{}, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, p.Name)
		}
		if p.DisplayName == "" {
			p.DisplayName = p.Name
		}
		c.byName[p.Name] = len(c.plans)
		c.plans = append(c.plans, p)
	}
	if _, ok := c.byName[PlanBasic]; !ok {
		return Catalog{}, fmt.Errorf("%w: %q plan is required", ErrInvalidCatalog, PlanBasic)
	}

	for alias, target := range cfg.Aliases {
		alias, target = normalizePlan(alias), normalizePlan(target)
		if _, ok := c.byName[target]; !ok {
			return Catalog{}, fmt.Errorf("%w: alias %q points to unknown plan %q", ErrInvalidCatalog, alias, target)
		}
		if _, clash := c.byName[alias]; clash || alias == PlanCustom {
			return Catalog{}, fmt.Errorf("%w: alias %q shadows a plan", ErrInvalidCatalog, alias)
		}
		c.aliases[alias] = target
	}

	for _, a := range cfg.AddOns {
		if a.Orders <= 0 || a.PriceCents < 0 {
			return Catalog{}, fmt.Errorf("%w: add-on of %d orders", ErrInvalidCatalog, a.Orders)
		}
		c.addons = append(c.addons, a)
	}

	for _, k := range Kinds {
		cp, ok := cfg.Copy[k]
		if !ok {
			return Catalog{}, fmt.Errorf("%w: no copy for %q", ErrInvalidCatalog, k)
		}
		if !k.Purchasable() {
			cp.SecondaryCTA = ""
		}
		c.copy[k] = cp
	}
	return c, nil
}

func LoadCatalog(r io.Reader) (Catalog, error) {
	var cfg CatalogConfig
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(cfg)
}

// LoadCatalogFile reads a YAML catalog from path, or returns DefaultCatalog
// when path is empty.
func LoadCatalogFile(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, err
	}
	defer f.Close()
	return LoadCatalog(f)
}

func normalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

// Resolve returns the catalog plan for a subscription plan name. Empty and
// custom plans have no row. Unknown names fall back to basic.
func (c Catalog) Resolve(plan string) (Plan, bool) {
	name := normalizePlan(plan)
	if name == "" || name == PlanCustom {
		return Plan{}, false
	}
	if target, ok := c.aliases[name]; ok {
		name = target
	}
	i, ok := c.byName[name]
	if !ok {
		i = c.byName[PlanBasic]
	}
	return c.plans[i], true
}

func (c Catalog) LimitsFor(plan string) (Limits, bool) {
	p, ok := c.Resolve(plan)
	return p.Limits, ok
}

// Plans returns a copy of the plan list in catalog order.
func (c Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c Catalog) AddOns() []AddOn {
	out := make([]AddOn, len(c.addons))
	copy(out, c.addons)
	return out
}

// AddOn returns the add-on selling exactly orders of extra volume.
func (c Catalog) AddOn(orders int) (AddOn, bool) {
	for _, a := range c.addons {
		if a.Orders == orders {
			return a, true
		}
	}
	return AddOn{}, false
}

// CopyFor returns the unrendered copy for kind.
func (c Catalog) CopyFor(kind Kind) (Copy, error) {
	cp, ok := c.copy[kind]
	if !ok {
		return Copy{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return cp, nil
}
