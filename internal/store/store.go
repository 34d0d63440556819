// Package store defines the transactional storage contract shared by the
// ledger, redemption, combat and arena services.
//
// Every mutation runs inside Store.InTx. Methods suffixed ForUpdate are
// write-intent reads: the rows they return stay locked against other
// transactions until the surrounding transaction ends.
package store

import (
	"context"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/game"
)

type Store interface {
	// InTx runs fn in one all-or-nothing transaction. A non-nil error from fn
	// rolls back every change made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	CreateAccount(ctx context.Context, a game.Account) error
	Account(ctx context.Context, id string) (game.Account, error)
	AccountForUpdate(ctx context.Context, id string) (game.Account, error)
	// AccountsForUpdate locks the given accounts in ascending id order and
	// returns them keyed by id. Missing accounts yield game.ErrNotFound.
	AccountsForUpdate(ctx context.Context, ids ...string) (map[string]game.Account, error)
	UpdateAccount(ctx context.Context, a game.Account) error

	InsertPower(ctx context.Context, p game.PowerInstance) error
	Power(ctx context.Context, id string) (game.PowerInstance, error)
	PowersByAccount(ctx context.Context, accountID string) ([]game.PowerInstance, error)

	AppendEntries(ctx context.Context, entries ...game.LedgerEntry) error

	InsertCode(ctx context.Context, c game.RedeemCode) error
	Code(ctx context.Context, code string) (game.RedeemCode, error)
	CodeForUpdate(ctx context.Context, code string) (game.RedeemCode, error)
	SetCodeActive(ctx context.Context, code string, active bool) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	CountUsages(ctx context.Context, code string) (int64, error)
	HasUsage(ctx context.Context, code, accountID string) (bool, error)
	// InsertUsage returns false when the (code, account) pair already exists.
	InsertUsage(ctx context.Context, u game.CodeUsage) (bool, error)

	Contenders(ctx context.Context) ([]game.Contender, error)
	ReplaceRankings(ctx context.Context, rows []game.RankPosition) error
	Rankings(ctx context.Context, limit int) ([]game.RankPosition, error)
	Ranking(ctx context.Context, accountID string) (game.RankPosition, error)
}

// EquippedPower returns the account's equipped power, or nil when none is set.
func EquippedPower(ctx context.Context, tx Tx, a game.Account) (*game.PowerInstance, error) {
	if a.EquippedPowerID == nil {
		return nil, nil
	}
	p, err := tx.Power(ctx, *a.EquippedPowerID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != a.ID {
		return nil, game.ErrNotOwned
	}
	return &p, nil
}
