package combat

import (
	"fmt"

	"github.com/Aethery0y/Aot-sub000/internal/content"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/tier"
)

// Encounter is one generated opponent. It lives only as long as the battle.
type Encounter struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CP   int64  `json:"cp"`
	Tier string `json:"tier"`
}

var defaultOpponent = content.Opponent{Name: "Wandering Titan", Type: "pure"}

type Generator struct {
	tiers *tier.Catalog
	pools map[string][]content.Opponent
	rand  *game.Rand
}

func NewGenerator(tiers *tier.Catalog, pools map[string][]content.Opponent, rnd *game.Rand) *Generator {
	if rnd == nil {
		rnd = game.NewTimeRand()
	}
	return &Generator{tiers: tiers, pools: pools, rand: rnd}
}

// Generate picks an opponent. With an explicit tier the CP is uniform over
// that tier's whole range; otherwise it is drawn from AutoRange around the
// requester's own CP.
func (g *Generator) Generate(effectiveCP int64, explicitTier string) (Encounter, error) {
	var (
		t      tier.Tier
		lo, hi int64
	)
	if explicitTier != "" {
		var ok bool
		t, ok = g.tiers.RangeOf(explicitTier)
		if !ok {
			return Encounter{}, fmt.Errorf("%w: %s", game.ErrUnknownTier, explicitTier)
		}
		lo, hi = t.Min, t.Max
	} else {
		t = g.tiers.TierFor(effectiveCP)
		lo, hi = AutoRange(t, effectiveCP)
	}

	o := g.pickOpponent(t.Label)
	return Encounter{
		Name: o.Name,
		Type: o.Type,
		CP:   g.rand.Int63Range(lo, hi),
		Tier: t.Label,
	}, nil
}

// AutoRange is the auto-match window. With a variation budget of 0.7×cp the
// opponent may be up to 30% of the budget weaker (0.21×cp) and up to the whole
// budget stronger, clipped to the tier. When clipping leaves an empty window it
// collapses to its lower end, kept inside the tier.
func AutoRange(t tier.Tier, cp int64) (lo, hi int64) {
	weaker := cp * 21 / 100
	stronger := cp * 70 / 100
	lo = max(t.Min, cp-weaker)
	hi = min(t.Max, cp+stronger)
	if lo > hi {
		lo = min(max(lo, t.Min), t.Max)
		hi = lo
	}
	return lo, hi
}

func (g *Generator) pickOpponent(label string) content.Opponent {
	pool := g.pools[label]
	if len(pool) == 0 {
		pool = g.pools[g.tiers.Lowest().Label]
	}
	if len(pool) == 0 {
		return defaultOpponent
	}
	return pool[g.rand.Intn(len(pool))]
}
