// Package combat generates encounters, resolves battles and pays out their
// rewards. Fight is player versus a generated opponent; Duel is player versus
// player.
package combat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/store"
	"github.com/Aethery0y/Aot-sub000/internal/tier"
)

const (
	OpFight = "fight"
	OpDuel  = "duel"
)

// Notifier is told when a battle may have changed the arena order.
type Notifier interface {
	Notify()
}

type Options struct {
	Arena  Notifier
	Sink   audit.Sink
	Logger *slog.Logger
}

type Service struct {
	store     store.Store
	locks     *lock.Manager
	ledger    *ledger.Service
	tiers     *tier.Catalog
	generator *Generator
	resolver  *Resolver
	arena     Notifier
	sink      audit.Sink
	log       *slog.Logger
}

func NewService(st store.Store, locks *lock.Manager, l *ledger.Service, tiers *tier.Catalog, gen *Generator, res *Resolver, opts Options) *Service {
	s := &Service{
		store:     st,
		locks:     locks,
		ledger:    l,
		tiers:     tiers,
		generator: gen,
		resolver:  res,
		arena:     opts.Arena,
		sink:      opts.Sink,
		log:       opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.sink == nil {
		s.sink = audit.NewLogSink(s.log)
	}
	return s
}

type Standing struct {
	AccountID string           `json:"account_id"`
	Balance   game.BalanceView `json:"balance"`
	Wins      int64            `json:"wins"`
	Losses    int64            `json:"losses"`
	XP        int64            `json:"xp"`
	Level     int32            `json:"level"`
	LeveledUp bool             `json:"leveled_up"`
}

type FightResult struct {
	Encounter   Encounter `json:"encounter"`
	Outcome     Outcome   `json:"outcome"`
	EffectiveCP int64     `json:"effective_cp"`
	Reward      int64     `json:"reward"`
	Standing    Standing  `json:"standing"`
}

type DuelResult struct {
	Outcome      Outcome  `json:"outcome"`
	ChallengerCP int64    `json:"challenger_cp"`
	DefenderCP   int64    `json:"defender_cp"`
	WinnerID     string   `json:"winner_id"`
	Reward       int64    `json:"reward"`
	Consolation  int64    `json:"consolation"`
	Challenger   Standing `json:"challenger"`
	Defender     Standing `json:"defender"`
}

func effectiveCP(ctx context.Context, tx store.Tx, a game.Account) (int64, error) {
	equipped, err := store.EquippedPower(ctx, tx, a)
	if err != nil {
		return 0, err
	}
	return game.EffectiveCP(equipped, a.BonusCP), nil
}

// settle re-reads the account after any grant and books the battle on it.
func settle(ctx context.Context, tx store.Tx, accountID string, won bool) (Standing, error) {
	a, err := tx.AccountForUpdate(ctx, accountID)
	if err != nil {
		return Standing{}, err
	}
	before := a.Level
	if won {
		a.Wins++
		a.XP += game.XPPerVictory
	} else {
		a.Losses++
		a.XP += game.XPPerDefeat
	}
	a.Level = game.LevelForXP(a.XP)
	if err := tx.UpdateAccount(ctx, a); err != nil {
		return Standing{}, err
	}
	return Standing{
		AccountID: a.ID,
		Balance:   a.Balances(),
		Wins:      a.Wins,
		Losses:    a.Losses,
		XP:        a.XP,
		Level:     a.Level,
		LeveledUp: a.Level > before,
	}, nil
}

func (s *Service) payout(ctx context.Context, tx store.Tx, accountID string, coins int64, reason string) error {
	if coins <= 0 {
		return nil
	}
	_, err := s.ledger.GrantRewardsTx(ctx, tx, accountID, []game.Reward{game.Coins{Amount: coins}}, reason)
	return err
}

// Fight battles a generated opponent. explicitTier may be empty for
// auto-matching.
func (s *Service) Fight(ctx context.Context, accountID, explicitTier string) (FightResult, error) {
	var out FightResult
	err := s.locks.Do(ctx, lock.AccountKey(accountID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			a, err := tx.AccountForUpdate(ctx, accountID)
			if err != nil {
				return err
			}
			cp, err := effectiveCP(ctx, tx, a)
			if err != nil {
				return err
			}
			enc, err := s.generator.Generate(cp, explicitTier)
			if err != nil {
				return err
			}
			outcome := s.resolver.Resolve(cp, enc.CP)
			out = FightResult{Encounter: enc, Outcome: outcome, EffectiveCP: cp}
			if outcome.Victory {
				t, _ := s.tiers.RangeOf(enc.Tier)
				out.Reward = s.resolver.Reward(enc.CP, t)
				if err := s.payout(ctx, tx, accountID, out.Reward, "defeated "+enc.Name); err != nil {
					return err
				}
			}
			out.Standing, err = settle(ctx, tx, accountID, outcome.Victory)
			return err
		})
	})
	if err != nil {
		audit.Emit(ctx, s.sink, s.log, audit.Failure(OpFight, accountID, err))
		return out, err
	}
	s.notify()
	audit.Emit(ctx, s.sink, s.log, audit.Event{
		Operation: OpFight,
		Actor:     accountID,
		Delta:     out.Reward,
		Balance:   out.Standing.Balance.Wallet,
		Reason:    fmt.Sprintf("%s %s cp=%d victory=%t", out.Encounter.Tier, out.Encounter.Name, out.Encounter.CP, out.Outcome.Victory),
	})
	return out, nil
}

// Duel resolves challenger against defender. The defender wins ties. The
// winner earns a reward scaled by the loser's CP and tier; the loser gets a
// consolation scaled by the winner's CP.
func (s *Service) Duel(ctx context.Context, challengerID, defenderID string) (DuelResult, error) {
	var out DuelResult
	err := func() error {
		if challengerID == defenderID {
			return game.ErrSelfTarget
		}
		return s.locks.Do(ctx, lock.PairKey(challengerID, defenderID), func(ctx context.Context) error {
			return s.store.InTx(ctx, func(tx store.Tx) error {
				accounts, err := tx.AccountsForUpdate(ctx, challengerID, defenderID)
				if err != nil {
					return err
				}
				ccp, err := effectiveCP(ctx, tx, accounts[challengerID])
				if err != nil {
					return err
				}
				dcp, err := effectiveCP(ctx, tx, accounts[defenderID])
				if err != nil {
					return err
				}
				outcome := s.resolver.Resolve(ccp, dcp)
				out = DuelResult{Outcome: outcome, ChallengerCP: ccp, DefenderCP: dcp}

				winner, loser, winnerCP, loserCP := defenderID, challengerID, dcp, ccp
				if outcome.Victory {
					winner, loser, winnerCP, loserCP = challengerID, defenderID, ccp, dcp
				}
				out.WinnerID = winner
				out.Reward = s.resolver.Reward(loserCP, s.tiers.TierFor(loserCP))
				out.Consolation = s.resolver.Consolation(winnerCP)
				if err := s.payout(ctx, tx, winner, out.Reward, "duel won vs "+loser); err != nil {
					return err
				}
				if err := s.payout(ctx, tx, loser, out.Consolation, "duel consolation vs "+winner); err != nil {
					return err
				}
				if out.Challenger, err = settle(ctx, tx, challengerID, outcome.Victory); err != nil {
					return err
				}
				out.Defender, err = settle(ctx, tx, defenderID, !outcome.Victory)
				return err
			})
		})
	}()
	if err != nil {
		audit.Emit(ctx, s.sink, s.log, audit.Failure(OpDuel, challengerID, err))
		return out, err
	}
	s.notify()
	audit.Emit(ctx, s.sink, s.log, audit.Event{
		Operation:    OpDuel,
		Actor:        challengerID,
		Counterparty: defenderID,
		Delta:        out.Reward,
		Balance:      out.Challenger.Balance.Wallet,
		Reason:       "winner " + out.WinnerID,
	})
	return out, nil
}

func (s *Service) notify() {
	if s.arena != nil {
		s.arena.Notify()
	}
}
