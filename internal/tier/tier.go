// Package tier maps combat power to labelled difficulty bands.
package tier

import (
	"fmt"
	"sort"

	"github.com/Aethery0y/Aot-sub000/internal/game"
)

type Tier struct {
	Label      string  `json:"label" yaml:"label"`
	Min        int64   `json:"min" yaml:"min"`
	Max        int64   `json:"max" yaml:"max"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

func (t Tier) Contains(cp int64) bool {
	return cp >= t.Min && cp <= t.Max
}

// Catalog is immutable after New and safe for concurrent reads.
type Catalog struct {
	tiers   []Tier
	byLabel map[string]int
}

// New validates tiers once. Gaps between consecutive tiers are allowed,
// overlaps are not.
func New(tiers []Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: tier catalog is empty", game.ErrConfiguration)
	}
	c := &Catalog{
		tiers:   append([]Tier(nil), tiers...),
		byLabel: make(map[string]int, len(tiers)),
	}
	for i, t := range c.tiers {
		switch {
		case t.Label == "":
			return nil, fmt.Errorf("%w: tier #%d has no label", game.ErrConfiguration, i)
		case t.Min < 0:
			return nil, fmt.Errorf("%w: tier %s has negative min", game.ErrConfiguration, t.Label)
		case t.Min > t.Max:
			return nil, fmt.Errorf("%w: tier %s min %d > max %d", game.ErrConfiguration, t.Label, t.Min, t.Max)
		case t.Multiplier <= 0:
			return nil, fmt.Errorf("%w: tier %s multiplier must be > 0", game.ErrConfiguration, t.Label)
		}
		if _, dup := c.byLabel[t.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate tier label %s", game.ErrConfiguration, t.Label)
		}
		c.byLabel[t.Label] = i
		if i > 0 {
			prev := c.tiers[i-1]
			if t.Min <= prev.Max {
				return nil, fmt.Errorf("%w: tier %s [%d,%d] overlaps or precedes %s [%d,%d]",
					game.ErrConfiguration, t.Label, t.Min, t.Max, prev.Label, prev.Min, prev.Max)
			}
		}
	}
	return c, nil
}

// Default is the built-in ten tier ladder.
func Default() *Catalog {
	c, err := New(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return c
}

func DefaultTiers() []Tier {
	return []Tier{
		{Label: "F", Min: 0, Max: 99, Multiplier: 1.0},
		{Label: "E", Min: 100, Max: 499, Multiplier: 1.1},
		{Label: "D", Min: 500, Max: 1499, Multiplier: 1.25},
		{Label: "C", Min: 1500, Max: 4999, Multiplier: 1.5},
		{Label: "B", Min: 5000, Max: 14999, Multiplier: 1.75},
		{Label: "A", Min: 15000, Max: 49999, Multiplier: 2.0},
		{Label: "S", Min: 50000, Max: 149999, Multiplier: 2.5},
		{Label: "SS", Min: 150000, Max: 499999, Multiplier: 3.0},
		{Label: "SSS", Min: 500000, Max: 1999999, Multiplier: 4.0},
		{Label: "EX", Min: 2000000, Max: 10000000, Multiplier: 5.0},
	}
}

// TierFor returns the tier containing cp. Below every tier it returns the
// lowest, above every tier the highest, and inside a gap the next tier up.
func (c *Catalog) TierFor(cp int64) Tier {
	i := sort.Search(len(c.tiers), func(i int) bool { return c.tiers[i].Max >= cp })
	if i == len(c.tiers) {
		return c.tiers[len(c.tiers)-1]
	}
	return c.tiers[i]
}

func (c *Catalog) RangeOf(label string) (Tier, bool) {
	i, ok := c.byLabel[label]
	if !ok {
		return Tier{}, false
	}
	return c.tiers[i], true
}

func (c *Catalog) Lowest() Tier { return c.tiers[0] }

func (c *Catalog) Tiers() []Tier {
	return append([]Tier(nil), c.tiers...)
}
