package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reward is one entry of a reward list. The set of implementations is closed:
// Coins, DrawCredits and PowerGrant.
type Reward interface {
	Kind() string
	isReward()
}

type Coins struct {
	Amount int64
}

type DrawCredits struct {
	Amount int64
}

type PowerGrant struct {
	DefinitionID string
}

const (
	RewardCoins       = "coin"
	RewardDrawCredits = "draw-credit"
	RewardPower       = "power"
)

func (Coins) Kind() string       { return RewardCoins }
func (DrawCredits) Kind() string { return RewardDrawCredits }
func (PowerGrant) Kind() string  { return RewardPower }

func (Coins) isReward()       {}
func (DrawCredits) isReward() {}
func (PowerGrant) isReward()  {}

// ValidateRewards rejects empty lists, non-positive amounts and blank power ids.
func ValidateRewards(rewards []Reward) error {
	if len(rewards) == 0 {
		return fmt.Errorf("%w: at least one reward is required", ErrInvalidReward)
	}
	for i, r := range rewards {
		switch v := r.(type) {
		case Coins:
			if v.Amount <= 0 {
				return fmt.Errorf("reward %d: %w", i, ErrInvalidAmount)
			}
		case DrawCredits:
			if v.Amount <= 0 {
				return fmt.Errorf("reward %d: %w", i, ErrInvalidAmount)
			}
		case PowerGrant:
			if strings.TrimSpace(v.DefinitionID) == "" {
				return fmt.Errorf("%w: reward %d has no power id", ErrInvalidReward, i)
			}
		default:
			return fmt.Errorf("%w: reward %d has unsupported type %T", ErrInvalidReward, i, r)
		}
	}
	return nil
}

type rewardWire struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount,omitempty"`
	Power  string `json:"power,omitempty"`
}

func MarshalRewards(rewards []Reward) ([]byte, error) {
	out := make([]rewardWire, 0, len(rewards))
	for _, r := range rewards {
		switch v := r.(type) {
		case Coins:
			out = append(out, rewardWire{Type: RewardCoins, Amount: v.Amount})
		case DrawCredits:
			out = append(out, rewardWire{Type: RewardDrawCredits, Amount: v.Amount})
		case PowerGrant:
			out = append(out, rewardWire{Type: RewardPower, Power: v.DefinitionID})
		default:
			return nil, fmt.Errorf("unsupported reward %T", r)
		}
	}
	return json.Marshal(out)
}

func UnmarshalRewards(raw []byte) ([]Reward, error) {
	var in []rewardWire
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode rewards: %w", err)
	}
	out := make([]Reward, 0, len(in))
	for _, w := range in {
		switch strings.ToLower(strings.TrimSpace(w.Type)) {
		case RewardCoins, "coins":
			out = append(out, Coins{Amount: w.Amount})
		case RewardDrawCredits, "draw-credits", "draw_credit", "draws":
			out = append(out, DrawCredits{Amount: w.Amount})
		case RewardPower:
			out = append(out, PowerGrant{DefinitionID: w.Power})
		default:
			return nil, fmt.Errorf("%w: unknown reward type %q", ErrInvalidReward, w.Type)
		}
	}
	return out, nil
}

// RewardsJSON is the wire helper used by API payloads.
type RewardsJSON []Reward

func (r RewardsJSON) MarshalJSON() ([]byte, error) {
	return MarshalRewards(r)
}

func (r *RewardsJSON) UnmarshalJSON(raw []byte) error {
	out, err := UnmarshalRewards(raw)
	if err != nil {
		return err
	}
	*r = out
	return nil
}
