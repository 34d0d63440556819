// Package content loads the static game data: the tier ladder, opponent
// pools per tier and the power definitions used by draws and the shop.
package content

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/tier"
)

//go:embed default.yaml
var defaultYAML []byte

type Opponent struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

type file struct {
	Tiers     []tier.Tier            `yaml:"tiers"`
	Opponents map[string][]Opponent  `yaml:"opponents"`
	Powers    []game.PowerDefinition `yaml:"powers"`
}

type Content struct {
	Tiers     *tier.Catalog
	Opponents map[string][]Opponent
	Powers    *Powers
}

// Load reads path, or returns the built-in content when path is empty.
// Sections missing from the file fall back to the built-in ones.
func Load(path string) (*Content, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read content %s: %v", game.ErrConfiguration, path, err)
	}
	return Parse(raw)
}

func Default() (*Content, error) {
	return Parse(defaultYAML)
}

func Parse(raw []byte) (*Content, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse content: %v", game.ErrConfiguration, err)
	}
	if len(f.Tiers) == 0 || len(f.Powers) == 0 || f.Opponents == nil {
		var base file
		if err := yaml.Unmarshal(defaultYAML, &base); err != nil {
			return nil, fmt.Errorf("%w: built-in content: %v", game.ErrConfiguration, err)
		}
		if len(f.Tiers) == 0 {
			f.Tiers = base.Tiers
		}
		if len(f.Powers) == 0 {
			f.Powers = base.Powers
		}
		if f.Opponents == nil {
			f.Opponents = base.Opponents
		}
	}

	catalog, err := tier.New(f.Tiers)
	if err != nil {
		return nil, err
	}
	for label, pool := range f.Opponents {
		if _, ok := catalog.RangeOf(label); !ok {
			return nil, fmt.Errorf("%w: opponent pool for unknown tier %s", game.ErrConfiguration, label)
		}
		for _, o := range pool {
			if o.Name == "" {
				return nil, fmt.Errorf("%w: unnamed opponent in tier %s", game.ErrConfiguration, label)
			}
		}
	}
	powers, err := NewPowers(f.Powers)
	if err != nil {
		return nil, err
	}
	return &Content{Tiers: catalog, Opponents: f.Opponents, Powers: powers}, nil
}

// Powers is the immutable set of power definitions.
type Powers struct {
	defs        []game.PowerDefinition
	byID        map[string]game.PowerDefinition
	totalWeight int
}

func NewPowers(defs []game.PowerDefinition) (*Powers, error) {
	p := &Powers{byID: make(map[string]game.PowerDefinition, len(defs))}
	for _, d := range defs {
		switch {
		case d.ID == "" || d.Name == "":
			return nil, fmt.Errorf("%w: power definition needs id and name", game.ErrConfiguration)
		case d.BaseCP < 0 || d.Price < 0 || d.Weight < 0:
			return nil, fmt.Errorf("%w: power %s has a negative field", game.ErrConfiguration, d.ID)
		}
		if _, dup := p.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate power id %s", game.ErrConfiguration, d.ID)
		}
		p.byID[d.ID] = d
		p.defs = append(p.defs, d)
		p.totalWeight += d.Weight
	}
	if p.totalWeight <= 0 {
		return nil, fmt.Errorf("%w: power draw weights sum to zero", game.ErrConfiguration)
	}
	sort.SliceStable(p.defs, func(i, j int) bool { return p.defs[i].BaseCP < p.defs[j].BaseCP })
	return p, nil
}

func (p *Powers) Get(id string) (game.PowerDefinition, bool) {
	d, ok := p.byID[id]
	return d, ok
}

func (p *Powers) List() []game.PowerDefinition {
	return append([]game.PowerDefinition(nil), p.defs...)
}

// Pick maps u in [0,1) onto a definition proportionally to draw weight.
func (p *Powers) Pick(u float64) game.PowerDefinition {
	target := int(u * float64(p.totalWeight))
	for _, d := range p.defs {
		if target < d.Weight {
			return d
		}
		target -= d.Weight
	}
	return p.defs[len(p.defs)-1]
}
