// Package tiers maps a point balance to a discount tier.
package tiers

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Key string

const (
	Bronze   Key = "bronze"
	Silver   Key = "silver"
	Gold     Key = "gold"
	Platinum Key = "platinum"
)

type Definition struct {
	Key             Key    `yaml:"key" json:"key"`
	Name            string `yaml:"name" json:"name"`
	MinPoints       int    `yaml:"min_points" json:"min_points"`
	DiscountPercent int    `yaml:"discount_percent" json:"discount_percent"`
	Color           string `yaml:"color" json:"color"`
	Icon            string `yaml:"icon" json:"icon"`
}

// Table is an immutable tier list ordered ascending by MinPoints.
type Table struct {
	defs []Definition
}

var ErrInvalidTable = errors.New("invalid tier table")

func Default() Table {
	t, _ := New([]Definition{
		{Key: Bronze, Name: "Bronze", MinPoints: 0, DiscountPercent: 0, Color: "#CD7F32", Icon: "medal"},
		{Key: Silver, Name: "Prata", MinPoints: 100, DiscountPercent: 5, Color: "#C0C0C0", Icon: "star"},
		{Key: Gold, Name: "Ouro", MinPoints: 500, DiscountPercent: 10, Color: "#FFD700", Icon: "crown"},
		{Key: Platinum, Name: "Platina", MinPoints: 1000, DiscountPercent: 15, Color: "#E5E4E2", Icon: "gem"},
	})
	return t
}

// New validates defs and copies them into a Table.
func New(defs []Definition) (Table, error) {
	if len(defs) == 0 {
		return Table{}, fmt.Errorf("%w: no tiers", ErrInvalidTable)
	}
	if defs[0].MinPoints != 0 {
		return Table{}, fmt.Errorf("%w: first tier must start at 0 points", ErrInvalidTable)
	}
	seen := make(map[Key]bool, len(defs))
	for i, d := range defs {
		if d.Key == "" {
			return Table{}, fmt.Errorf("%w: tier %d has no key", ErrInvalidTable, i)
		}
		if seen[d.Key] {
			return Table{}, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTable, d.Key)
		}
		seen[d.Key] = true
		if d.DiscountPercent < 0 || d.DiscountPercent > 100 {
			return Table{}, fmt.Errorf("%w: tier %q discount out of range", ErrInvalidTable, d.Key)
		}
		if i > 0 && d.MinPoints <= defs[i-1].MinPoints {
			return Table{}, fmt.Errorf("%w: tier %q is not strictly above %q", ErrInvalidTable, d.Key, defs[i-1].Key)
		}
	}
	out := make([]Definition, len(defs))
	copy(out, defs)
	return Table{defs: out}, nil
}

type file struct {
	Tiers []Definition `yaml:"tiers"`
}

func Load(r io.Reader) (Table, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return Table{}, fmt.Errorf("decode tiers: %w", err)
	}
	return New(f.Tiers)
}

// LoadFile reads a YAML table from path, or returns Default when path is empty.
func LoadFile(path string) (Table, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	return Load(f)
}

// All returns a copy of the tier list.
func (t Table) All() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Calculate returns the highest tier whose MinPoints is at or below points.
func (t Table) Calculate(points int) Definition {
	for i := len(t.defs) - 1; i > 0; i-- {
		if t.defs[i].MinPoints <= points {
			return t.defs[i]
		}
	}
	return t.defs[0]
}

// PointsToNext returns the deficit to the next tier above the current one,
// or false at the top tier.
func (t Table) PointsToNext(points int) (int, bool) {
	current := t.Calculate(points)
	for _, d := range t.defs {
		if d.MinPoints > current.MinPoints {
			return d.MinPoints - points, true
		}
	}
	return 0, false
}

func (t Table) Discount(points int) int {
	return t.Calculate(points).DiscountPercent
}
