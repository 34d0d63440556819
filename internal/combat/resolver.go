package combat

import (
	"math"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/tier"
)

type Intensity string

const (
	IntensityClose    Intensity = "close"
	IntensitySolid    Intensity = "solid"
	IntensityDominant Intensity = "dominant"
)

const (
	DefaultBaseReward      = int64(10)
	DefaultConsolationBase = int64(2)

	rollLow  = 0.6
	rollHigh = 1.4
)

type Outcome struct {
	Victory       bool      `json:"victory"`
	RequesterRoll float64   `json:"requester_roll"`
	OpponentRoll  float64   `json:"opponent_roll"`
	Margin        float64   `json:"margin"`
	Intensity     Intensity `json:"intensity"`
}

type Resolver struct {
	rand            *game.Rand
	baseReward      int64
	consolationBase int64
}

func NewResolver(rnd *game.Rand, baseReward, consolationBase int64) *Resolver {
	if rnd == nil {
		rnd = game.NewTimeRand()
	}
	if baseReward <= 0 {
		baseReward = DefaultBaseReward
	}
	if consolationBase <= 0 {
		consolationBase = DefaultConsolationBase
	}
	return &Resolver{rand: rnd, baseReward: baseReward, consolationBase: consolationBase}
}

// Resolve rolls independent jitter for both sides. The requester must roll
// strictly higher to win; an exact tie goes to the defender.
func (r *Resolver) Resolve(requesterCP, opponentCP int64) Outcome {
	req := float64(requesterCP) * r.rand.Between(rollLow, rollHigh)
	opp := float64(opponentCP) * r.rand.Between(rollLow, rollHigh)
	margin := math.Abs(req - opp)
	return Outcome{
		Victory:       wins(req, opp),
		RequesterRoll: req,
		OpponentRoll:  opp,
		Margin:        margin,
		Intensity:     intensityFor(margin, math.Max(req, opp)),
	}
}

func wins(requesterRoll, opponentRoll float64) bool {
	return requesterRoll > opponentRoll
}

func intensityFor(margin, larger float64) Intensity {
	if larger <= 0 {
		return IntensityClose
	}
	switch ratio := margin / larger; {
	case ratio < 0.10:
		return IntensityClose
	case ratio < 0.35:
		return IntensitySolid
	default:
		return IntensityDominant
	}
}

// StepMultiplier boosts rewards for very high power opponents.
func StepMultiplier(cp int64) float64 {
	switch {
	case cp >= 2_000_000:
		return 2.5
	case cp >= 500_000:
		return 2.0
	case cp >= 100_000:
		return 1.5
	default:
		return 1.0
	}
}

func ScaledReward(base, opponentCP int64, multiplier, jitter float64) int64 {
	v := float64(base) * (float64(opponentCP) / 100) * multiplier * jitter * StepMultiplier(opponentCP)
	return int64(math.Floor(v))
}

// Reward is the coin payout for beating an opponent of cp in tier t.
func (r *Resolver) Reward(opponentCP int64, t tier.Tier) int64 {
	return ScaledReward(r.baseReward, opponentCP, t.Multiplier, r.rand.Between(0.8, 1.2))
}

// Consolation is paid to the losing side of a duel.
func (r *Resolver) Consolation(opponentCP int64) int64 {
	return max(1, int64(math.Floor(float64(r.consolationBase)*float64(opponentCP)/100)))
}
