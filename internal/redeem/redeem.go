// Package redeem turns one-time codes into reward grants, at most once per
// (code, account) pair and never past a code's usage cap.
package redeem

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/store"
)

const (
	OpRedeem     = "redeem"
	OpIssue      = "issue_code"
	OpDeactivate = "deactivate_code"
)

type Options struct {
	Inflight *Inflight
	Sink     audit.Sink
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	store    store.Store
	locks    *lock.Manager
	ledger   *ledger.Service
	inflight *Inflight
	sink     audit.Sink
	log      *slog.Logger
	now      func() time.Time
}

func NewService(st store.Store, locks *lock.Manager, l *ledger.Service, opts Options) *Service {
	s := &Service{
		store:    st,
		locks:    locks,
		ledger:   l,
		inflight: opts.Inflight,
		sink:     opts.Sink,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.inflight == nil {
		s.inflight = NewInflight()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.sink == nil {
		s.sink = audit.NewLogSink(s.log)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Redeem claims the (code, account) usage slot and grants the code's
// rewards in the same transaction. The usage row's primary key is what makes
// the grant at-most-once; the in-flight guard only turns away duplicates early.
func (s *Service) Redeem(ctx context.Context, rawCode, accountID string) (game.GrantResult, error) {
	code := game.NormalizeCode(rawCode)
	var out game.GrantResult
	err := func() error {
		if err := game.ValidateCode(code); err != nil {
			return err
		}
		release, ok := s.inflight.Begin(code, accountID)
		if !ok {
			return fmt.Errorf("%w: redemption already in progress", game.ErrAlreadyRedeemed)
		}
		defer release()

		return s.locks.Do(ctx, lock.AccountKey(accountID), func(ctx context.Context) error {
			return s.store.InTx(ctx, func(tx store.Tx) error {
				if _, err := tx.AccountForUpdate(ctx, accountID); err != nil {
					return err
				}
				c, err := tx.CodeForUpdate(ctx, code)
				if errors.Is(err, game.ErrNotFound) {
					return game.ErrInvalidCode
				}
				if err != nil {
					return err
				}
				now := s.now()
				if !c.Active {
					return game.ErrInvalidCode
				}
				if c.Expired(now) {
					return game.ErrExpired
				}
				used, err := tx.HasUsage(ctx, code, accountID)
				if err != nil {
					return err
				}
				if used {
					return game.ErrAlreadyRedeemed
				}
				if c.MaxUses != nil {
					n, err := tx.CountUsages(ctx, code)
					if err != nil {
						return err
					}
					if n >= *c.MaxUses {
						return game.ErrUsageExceeded
					}
				}
				inserted, err := tx.InsertUsage(ctx, game.CodeUsage{Code: code, AccountID: accountID, RedeemedAt: now})
				if err != nil {
					return err
				}
				if !inserted {
					return game.ErrAlreadyRedeemed
				}
				out, err = s.ledger.GrantRewardsTx(ctx, tx, accountID, c.Rewards, "redeem "+code)
				return err
			})
		})
	}()

	if err != nil {
		ev := audit.Failure(OpRedeem, accountID, err)
		ev.Reason = code
		audit.Emit(ctx, s.sink, s.log, ev)
		return out, err
	}
	ev := ledger.GrantEvent(accountID, "redeem "+code, out)
	ev.Operation = OpRedeem
	audit.Emit(ctx, s.sink, s.log, ev)
	return out, nil
}

type IssueInput struct {
	Code        string
	Description string
	Rewards     []game.Reward
	MaxUses     *int64
	ExpiresAt   *time.Time
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random code in XXX-XXX-XXX form without the
// easily confused characters 0, O, 1 and I.
func GenerateCode() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for i := range buf {
		if i > 0 && i%3 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[int(buf[i])%len(codeAlphabet)])
	}
	return b.String(), nil
}

// Issue stores a new active code. An empty in.Code gets a generated one.
func (s *Service) Issue(ctx context.Context, in IssueInput) (game.RedeemCode, error) {
	c, err := s.issue(ctx, in)
	if err != nil {
		audit.Emit(ctx, s.sink, s.log, audit.Failure(OpIssue, "admin", err))
		return c, err
	}
	audit.Emit(ctx, s.sink, s.log, audit.Event{Operation: OpIssue, Actor: "admin", Reason: c.Code})
	return c, nil
}

func (s *Service) issue(ctx context.Context, in IssueInput) (game.RedeemCode, error) {
	if err := game.ValidateRewards(in.Rewards); err != nil {
		return game.RedeemCode{}, err
	}
	for _, r := range in.Rewards {
		if g, ok := r.(game.PowerGrant); ok {
			if _, known := s.ledger.Powers().Get(g.DefinitionID); !known {
				return game.RedeemCode{}, fmt.Errorf("%w: unknown power %q", game.ErrInvalidReward, g.DefinitionID)
			}
		}
	}
	if in.MaxUses != nil && *in.MaxUses <= 0 {
		return game.RedeemCode{}, fmt.Errorf("%w: max uses must be > 0", game.ErrInvalidAmount)
	}

	generated := strings.TrimSpace(in.Code) == ""
	attempts := 1
	if generated {
		attempts = 5
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		code := game.NormalizeCode(in.Code)
		if generated {
			var err error
			if code, err = GenerateCode(); err != nil {
				return game.RedeemCode{}, err
			}
		}
		if err := game.ValidateCode(code); err != nil {
			return game.RedeemCode{}, err
		}
		c := game.RedeemCode{
			Code:        code,
			Description: strings.TrimSpace(in.Description),
			Rewards:     in.Rewards,
			MaxUses:     in.MaxUses,
			ExpiresAt:   in.ExpiresAt,
			Active:      true,
		}
		lastErr = s.store.InTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertCode(ctx, c); err != nil {
				return err
			}
			var err error
			c, err = tx.Code(ctx, code)
			return err
		})
		if lastErr == nil {
			return c, nil
		}
		if !errors.Is(lastErr, game.ErrCodeExists) {
			return game.RedeemCode{}, lastErr
		}
	}
	return game.RedeemCode{}, lastErr
}

func (s *Service) Deactivate(ctx context.Context, rawCode string) error {
	code := game.NormalizeCode(rawCode)
	err := s.locks.Do(ctx, lock.CodeKey(code), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			return codeLookup(tx.SetCodeActive(ctx, code, false))
		})
	})
	if err != nil {
		audit.Emit(ctx, s.sink, s.log, audit.Failure(OpDeactivate, "admin", err))
		return err
	}
	audit.Emit(ctx, s.sink, s.log, audit.Event{Operation: OpDeactivate, Actor: "admin", Reason: code})
	return nil
}

// SweepExpired deactivates every active code whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.DeactivateExpired(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired codes deactivated", "count", n)
	}
	return n, nil
}

type CodeStatus struct {
	Code game.RedeemCode `json:"code"`
	Uses int64           `json:"uses"`
}

func (s *Service) Usage(ctx context.Context, rawCode string) (CodeStatus, error) {
	code := game.NormalizeCode(rawCode)
	var out CodeStatus
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.Code(ctx, code)
		if err != nil {
			return codeLookup(err)
		}
		n, err := tx.CountUsages(ctx, code)
		if err != nil {
			return err
		}
		out = CodeStatus{Code: c, Uses: n}
		return nil
	})
	return out, err
}

func codeLookup(err error) error {
	if errors.Is(err, game.ErrNotFound) {
		return game.ErrCodeNotFound
	}
	return err
}
