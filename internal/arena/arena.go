// Package arena keeps the global ranking of accounts by effective CP.
//
// Rankings are recomputed in full from a snapshot rather than patched, since
// one battle can move an account past any number of others. Recompute may
// run concurrently with ledger mutations and read a slightly stale snapshot;
// the next Notify or tick corrects it.
package arena

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/store"
)

// Order sorts by effective CP desc, then wins desc, then level desc, with the
// account id as a final deterministic tie-break, and numbers positions 1..N.
func Order(entries []game.Contender, at time.Time) []game.RankPosition {
	sorted := append([]game.Contender(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EffectiveCP != b.EffectiveCP {
			return a.EffectiveCP > b.EffectiveCP
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		return a.AccountID < b.AccountID
	})
	out := make([]game.RankPosition, len(sorted))
	for i, c := range sorted {
		out[i] = game.RankPosition{Contender: c, Position: int64(i + 1), ComputedAt: at}
	}
	return out
}

type Ranker struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewRanker(st store.Store, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{store: st, log: logger, now: time.Now}
}

// Recompute replaces the whole ranking table in one transaction and returns
// the number of ranked accounts.
func (r *Ranker) Recompute(ctx context.Context) (int, error) {
	var n int
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		contenders, err := tx.Contenders(ctx)
		if err != nil {
			return err
		}
		rows := Order(contenders, r.now().UTC())
		n = len(rows)
		return tx.ReplaceRankings(ctx, rows)
	})
	return n, err
}

func (r *Ranker) Top(ctx context.Context, limit int) ([]game.RankPosition, error) {
	var out []game.RankPosition
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Rankings(ctx, limit)
		return err
	})
	return out, err
}

func (r *Ranker) Position(ctx context.Context, accountID string) (game.RankPosition, error) {
	var out game.RankPosition
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ranking(ctx, accountID)
		if errors.Is(err, game.ErrNotFound) {
			return game.ErrNotRanked
		}
		return err
	})
	return out, err
}
