// Package ledger applies balance mutations to accounts. Each operation holds
// the matching lock.Manager key and runs in one store transaction, so it
// either applies completely or leaves every balance untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/content"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/store"
)

// All asks Deposit or Withdraw to move the whole balance as read inside the
// transaction.
const All int64 = -1

const (
	OpRegister = "register"
	OpTransfer = "transfer"
	OpWager    = "wager"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpGrant    = "grant"
	OpDraw     = "draw"
	OpBuy      = "buy_power"
	OpEquip    = "equip"
)

type Options struct {
	Sink   audit.Sink
	Powers *content.Powers
	Rand   *game.Rand
	Logger *slog.Logger
}

type Service struct {
	store  store.Store
	locks  *lock.Manager
	sink   audit.Sink
	powers *content.Powers
	rand   *game.Rand
	log    *slog.Logger
}

func NewService(st store.Store, locks *lock.Manager, opts Options) *Service {
	s := &Service{
		store:  st,
		locks:  locks,
		sink:   opts.Sink,
		powers: opts.Powers,
		rand:   opts.Rand,
		log:    opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.sink == nil {
		s.sink = audit.NewLogSink(s.log)
	}
	if s.rand == nil {
		s.rand = game.NewTimeRand()
	}
	if s.powers == nil {
		c, err := content.Default()
		if err != nil {
			panic(err)
		}
		s.powers = c.Powers
	}
	return s
}

func (s *Service) Powers() *content.Powers { return s.powers }

// changeLog collects the LedgerEntry rows of one operation under a shared
// tx group id.
type changeLog struct {
	group   string
	reason  string
	entries []game.LedgerEntry
}

func newChangeLog(reason string) *changeLog {
	return &changeLog{group: uuid.NewString(), reason: reason}
}

// add records delta on field; a must already carry the post-change balance.
func (c *changeLog) add(a game.Account, field string, delta int64) {
	if delta == 0 {
		return
	}
	var balance int64
	switch field {
	case game.FieldWallet:
		balance = a.Wallet
	case game.FieldBank:
		balance = a.Bank
	case game.FieldDrawCredits:
		balance = a.DrawCredits
	}
	c.entries = append(c.entries, game.LedgerEntry{
		TxGroupID: c.group,
		AccountID: a.ID,
		Field:     field,
		Delta:     delta,
		Balance:   balance,
		Reason:    c.reason,
	})
}

func (c *changeLog) flush(ctx context.Context, tx store.Tx) error {
	if len(c.entries) == 0 {
		return nil
	}
	return tx.AppendEntries(ctx, c.entries...)
}

func (s *Service) publish(ctx context.Context, op, actor string, err error, events []audit.Event) {
	if err != nil {
		audit.Emit(ctx, s.sink, s.log, audit.Failure(op, actor, err))
		return
	}
	for _, ev := range events {
		audit.Emit(ctx, s.sink, s.log, ev)
	}
}

// withAccount runs fn under the account's lock and in one transaction.
func (s *Service) withAccount(ctx context.Context, accountID string, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.locks.Do(ctx, lock.AccountKey(accountID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			return fn(ctx, tx)
		})
	})
}

func (s *Service) Register(ctx context.Context, accountID string) (game.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return game.Account{}, fmt.Errorf("account id is required")
	}
	var acct game.Account
	err := s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		seed := game.Account{
			ID:          accountID,
			Wallet:      game.StarterWallet,
			DrawCredits: game.StarterDrawCredits,
			Level:       1,
		}
		if err := tx.CreateAccount(ctx, seed); err != nil {
			return err
		}
		log := newChangeLog("starter grant")
		log.add(seed, game.FieldWallet, seed.Wallet)
		log.add(seed, game.FieldDrawCredits, seed.DrawCredits)
		if err := log.flush(ctx, tx); err != nil {
			return err
		}
		var err error
		acct, err = tx.Account(ctx, accountID)
		return err
	})
	s.publish(ctx, OpRegister, accountID, err, []audit.Event{{
		Operation: OpRegister,
		Actor:     accountID,
		Delta:     acct.Wallet,
		Balance:   acct.Wallet,
		Reason:    "starter grant",
	}})
	return acct, err
}

// Transfer moves amount from one wallet to another. The two wallets sum to
// the same value before and after.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount int64) (game.TransferResult, error) {
	var out game.TransferResult
	err := func() error {
		if amount <= 0 {
			return game.ErrInvalidAmount
		}
		if fromID == toID {
			return game.ErrSelfTarget
		}
		return s.locks.Do(ctx, lock.PairKey(fromID, toID), func(ctx context.Context) error {
			return s.store.InTx(ctx, func(tx store.Tx) error {
				accounts, err := tx.AccountsForUpdate(ctx, fromID, toID)
				if err != nil {
					return err
				}
				from, to := accounts[fromID], accounts[toID]
				if from.Wallet < amount {
					return game.ErrInsufficientFunds
				}
				credited, err := credit(to.Wallet, amount)
				if err != nil {
					return err
				}
				from.Wallet -= amount
				to.Wallet = credited
				if err := tx.UpdateAccount(ctx, from); err != nil {
					return err
				}
				if err := tx.UpdateAccount(ctx, to); err != nil {
					return err
				}
				log := newChangeLog("transfer")
				log.add(from, game.FieldWallet, -amount)
				log.add(to, game.FieldWallet, amount)
				if err := log.flush(ctx, tx); err != nil {
					return err
				}
				out = game.TransferResult{From: from.Balances(), To: to.Balances(), Amount: amount}
				return nil
			})
		})
	}()
	s.publish(ctx, OpTransfer, fromID, err, []audit.Event{
		{Operation: OpTransfer, Actor: fromID, Counterparty: toID, Delta: -amount, Balance: out.From.Wallet, Reason: "transfer out"},
		{Operation: OpTransfer, Actor: toID, Counterparty: fromID, Delta: amount, Balance: out.To.Wallet, Reason: "transfer in"},
	})
	return out, err
}

// Wager settles a game of chance: stake is taken and payout paid in one
// step. A payout of 0 is a loss, payout > stake a win.
func (s *Service) Wager(ctx context.Context, accountID string, stake, payout int64) (game.WagerResult, error) {
	out := game.WagerResult{Stake: stake, Payout: payout, Net: payout - stake}
	err := func() error {
		if stake <= 0 || payout < 0 {
			return game.ErrInvalidAmount
		}
		return s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
			acct, err := tx.AccountForUpdate(ctx, accountID)
			if err != nil {
				return err
			}
			if acct.Wallet < stake {
				return game.ErrInsufficientFunds
			}
			if acct.Wallet+out.Net < 0 {
				return game.ErrNegativeBalance
			}
			if acct.Wallet, err = credit(acct.Wallet, out.Net); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			log := newChangeLog("wager")
			log.add(acct, game.FieldWallet, out.Net)
			if err := log.flush(ctx, tx); err != nil {
				return err
			}
			out.Balance = acct.Balances()
			return nil
		})
	}()
	s.publish(ctx, OpWager, accountID, err, []audit.Event{{
		Operation: OpWager,
		Actor:     accountID,
		Delta:     out.Net,
		Balance:   out.Balance.Wallet,
		Reason:    fmt.Sprintf("stake %d payout %d", stake, payout),
	}})
	return out, err
}

func (s *Service) Deposit(ctx context.Context, accountID string, amount int64) (game.BankResult, error) {
	return s.moveBank(ctx, OpDeposit, accountID, amount)
}

func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64) (game.BankResult, error) {
	return s.moveBank(ctx, OpWithdraw, accountID, amount)
}

func (s *Service) moveBank(ctx context.Context, op, accountID string, amount int64) (game.BankResult, error) {
	var out game.BankResult
	err := func() error {
		if amount <= 0 && amount != All {
			return game.ErrInvalidAmount
		}
		return s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
			acct, err := tx.AccountForUpdate(ctx, accountID)
			if err != nil {
				return err
			}
			source := acct.Wallet
			if op == OpWithdraw {
				source = acct.Bank
			}
			moved := amount
			if amount == All {
				moved = source
			}
			if moved <= 0 {
				return game.ErrInvalidAmount
			}
			if source < moved {
				return game.ErrInsufficientFunds
			}
			log := newChangeLog(op)
			if op == OpDeposit {
				if acct.Bank, err = credit(acct.Bank, moved); err != nil {
					return err
				}
				acct.Wallet -= moved
				log.add(acct, game.FieldWallet, -moved)
				log.add(acct, game.FieldBank, moved)
			} else {
				if acct.Wallet, err = credit(acct.Wallet, moved); err != nil {
					return err
				}
				acct.Bank -= moved
				log.add(acct, game.FieldBank, -moved)
				log.add(acct, game.FieldWallet, moved)
			}
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			if err := log.flush(ctx, tx); err != nil {
				return err
			}
			out = game.BankResult{Moved: moved, Balance: acct.Balances()}
			return nil
		})
	}()
	delta := out.Moved
	if op == OpDeposit {
		delta = -delta
	}
	s.publish(ctx, op, accountID, err, []audit.Event{{
		Operation: op,
		Actor:     accountID,
		Delta:     delta,
		Balance:   out.Balance.Wallet,
		Reason:    fmt.Sprintf("bank %d", out.Balance.Bank),
	}})
	return out, err
}

// GrantRewards applies rewards to one account under its lock.
func (s *Service) GrantRewards(ctx context.Context, accountID string, rewards []game.Reward, reason string) (game.GrantResult, error) {
	var out game.GrantResult
	err := s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.GrantRewardsTx(ctx, tx, accountID, rewards, reason)
		return err
	})
	s.publish(ctx, OpGrant, accountID, err, []audit.Event{GrantEvent(accountID, reason, out)})
	return out, err
}

// GrantRewardsTx applies rewards inside a transaction the caller already
// owns. The caller must hold the account's lock and publishes the event.
func (s *Service) GrantRewardsTx(ctx context.Context, tx store.Tx, accountID string, rewards []game.Reward, reason string) (game.GrantResult, error) {
	var out game.GrantResult
	if err := game.ValidateRewards(rewards); err != nil {
		return out, err
	}
	acct, err := tx.AccountForUpdate(ctx, accountID)
	if err != nil {
		return out, err
	}
	for _, r := range rewards {
		switch v := r.(type) {
		case game.Coins:
			if acct.Wallet, err = credit(acct.Wallet, v.Amount); err != nil {
				return out, err
			}
			out.Coins += v.Amount
		case game.DrawCredits:
			if acct.DrawCredits, err = credit(acct.DrawCredits, v.Amount); err != nil {
				return out, err
			}
			out.DrawCredits += v.Amount
		case game.PowerGrant:
			def, ok := s.powers.Get(v.DefinitionID)
			if !ok {
				return out, fmt.Errorf("%w: unknown power %q", game.ErrConfiguration, v.DefinitionID)
			}
			p := newInstance(acct.ID, def, def.BaseCP)
			if err := tx.InsertPower(ctx, p); err != nil {
				return out, err
			}
			if acct.EquippedPowerID == nil {
				acct.EquippedPowerID = &p.ID
			}
			out.Powers = append(out.Powers, p)
		default:
			return out, fmt.Errorf("unsupported reward %T", r)
		}
	}
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return out, err
	}
	log := newChangeLog(reason)
	log.add(acct, game.FieldWallet, out.Coins)
	log.add(acct, game.FieldDrawCredits, out.DrawCredits)
	if err := log.flush(ctx, tx); err != nil {
		return out, err
	}
	out.Balance = acct.Balances()
	return out, nil
}

// credit adds delta to a balance, refusing sums that would not fit in int64.
func credit(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return balance, fmt.Errorf("%w: balance would overflow", game.ErrInvalidAmount)
	}
	return balance + delta, nil
}

// GrantEvent is the audit record for a committed grant.
func GrantEvent(accountID, reason string, g game.GrantResult) audit.Event {
	return audit.Event{
		Operation: OpGrant,
		Actor:     accountID,
		Delta:     g.Coins,
		Balance:   g.Balance.Wallet,
		Reason:    fmt.Sprintf("%s (+%d draws, %d powers)", reason, g.DrawCredits, len(g.Powers)),
	}
}

func newInstance(accountID string, def game.PowerDefinition, cp int64) game.PowerInstance {
	return game.PowerInstance{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		DefinitionID: def.ID,
		Name:         def.Name,
		Rank:         def.Rank,
		CombatPower:  cp,
		AcquiredAt:   time.Now().UTC(),
	}
}

// Draw spends one draw credit on a weighted random power. Rolled CP varies
// within ±10% of the definition's base.
func (s *Service) Draw(ctx context.Context, accountID string) (game.PowerInstance, error) {
	var out game.PowerInstance
	var after game.Account
	err := s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.AccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.DrawCredits < 1 {
			return game.ErrNoDrawCredits
		}
		def := s.powers.Pick(s.rand.Float64())
		cp := int64(math.Round(float64(def.BaseCP) * s.rand.Between(0.9, 1.1)))
		if cp < 1 && def.BaseCP > 0 {
			cp = 1
		}
		out = newInstance(acct.ID, def, cp)
		if err := tx.InsertPower(ctx, out); err != nil {
			return err
		}
		acct.DrawCredits--
		if acct.EquippedPowerID == nil {
			acct.EquippedPowerID = &out.ID
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		log := newChangeLog("draw " + def.ID)
		log.add(acct, game.FieldDrawCredits, -1)
		after = acct
		return log.flush(ctx, tx)
	})
	s.publish(ctx, OpDraw, accountID, err, []audit.Event{{
		Operation: OpDraw,
		Actor:     accountID,
		Delta:     -1,
		Balance:   after.DrawCredits,
		Reason:    out.DefinitionID,
	}})
	return out, err
}

// BuyPower debits the catalog price and grants the power at its base CP.
func (s *Service) BuyPower(ctx context.Context, accountID, definitionID string) (game.PowerInstance, error) {
	var out game.PowerInstance
	var after game.Account
	def, ok := s.powers.Get(definitionID)
	err := func() error {
		if !ok {
			return fmt.Errorf("%w: %q", game.ErrPowerNotFound, definitionID)
		}
		return s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
			acct, err := tx.AccountForUpdate(ctx, accountID)
			if err != nil {
				return err
			}
			if acct.Wallet < def.Price {
				return game.ErrInsufficientFunds
			}
			out = newInstance(acct.ID, def, def.BaseCP)
			if err := tx.InsertPower(ctx, out); err != nil {
				return err
			}
			acct.Wallet -= def.Price
			if acct.EquippedPowerID == nil {
				acct.EquippedPowerID = &out.ID
			}
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			log := newChangeLog("buy " + def.ID)
			log.add(acct, game.FieldWallet, -def.Price)
			after = acct
			return log.flush(ctx, tx)
		})
	}()
	s.publish(ctx, OpBuy, accountID, err, []audit.Event{{
		Operation: OpBuy,
		Actor:     accountID,
		Delta:     -def.Price,
		Balance:   after.Wallet,
		Reason:    definitionID,
	}})
	return out, err
}

func (s *Service) Equip(ctx context.Context, accountID, instanceID string) (game.PowerInstance, error) {
	var out game.PowerInstance
	err := s.withAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.AccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		p, err := tx.Power(ctx, instanceID)
		if err != nil {
			if errors.Is(err, game.ErrNotFound) {
				return game.ErrNotOwned
			}
			return err
		}
		if p.AccountID != acct.ID {
			return game.ErrNotOwned
		}
		acct.EquippedPowerID = &p.ID
		out = p
		return tx.UpdateAccount(ctx, acct)
	})
	s.publish(ctx, OpEquip, accountID, err, []audit.Event{{
		Operation: OpEquip,
		Actor:     accountID,
		Reason:    instanceID,
	}})
	return out, err
}

// Profile is a lock-free read; it may trail a concurrent mutation.
func (s *Service) Profile(ctx context.Context, accountID string) (game.Profile, error) {
	var out game.Profile
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		powers, err := tx.PowersByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		equipped, err := store.EquippedPower(ctx, tx, acct)
		if err != nil {
			return err
		}
		out = game.Profile{
			Account:     acct,
			Powers:      powers,
			EffectiveCP: game.EffectiveCP(equipped, acct.BonusCP),
		}
		rank, err := tx.Ranking(ctx, accountID)
		switch {
		case err == nil:
			pos := rank.Position
			out.Position = &pos
		case !errors.Is(err, game.ErrNotFound):
			return err
		}
		return nil
	})
	return out, err
}
