// Package memory is an in-process store.Store used by tests and single-node
// development. Transactions are serialized by one mutex and applied on commit
// from a private copy of the state, so a failing transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/store"
)

type state struct {
	accounts map[string]game.Account
	powers   map[string]game.PowerInstance
	entries  []game.LedgerEntry
	codes    map[string]game.RedeemCode
	usages   map[string]map[string]game.CodeUsage
	rankings []game.RankPosition
}

func newState() *state {
	return &state{
		accounts: map[string]game.Account{},
		powers:   map[string]game.PowerInstance{},
		codes:    map[string]game.RedeemCode{},
		usages:   map[string]map[string]game.CodeUsage{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.powers {
		out.powers[k] = v
	}
	out.entries = append([]game.LedgerEntry(nil), s.entries...)
	for k, v := range s.codes {
		out.codes[k] = v
	}
	for code, byAccount := range s.usages {
		m := make(map[string]game.CodeUsage, len(byAccount))
		for k, v := range byAccount {
			m[k] = v
		}
		out.usages[code] = m
	}
	out.rankings = append([]game.RankPosition(nil), s.rankings...)
	return out
}

type Store struct {
	mu  sync.Mutex
	cur *state
	now func() time.Time
}

func New() *Store {
	return &Store{cur: newState(), now: time.Now}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.cur.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.cur = tx.st
	return nil
}

func (s *Store) Close() error { return nil }

// Entries returns a copy of the change log, oldest first.
func (s *Store) Entries() []game.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.LedgerEntry(nil), s.cur.entries...)
}

// UsageRows returns the number of stored CodeUsage rows for code.
func (s *Store) UsageRows(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cur.usages[code])
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) CreateAccount(_ context.Context, a game.Account) error {
	if _, ok := t.st.accounts[a.ID]; ok {
		return game.ErrAccountExists
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Level == 0 {
		a.Level = 1
	}
	t.st.accounts[a.ID] = a
	return nil
}

func (t *memTx) Account(_ context.Context, id string) (game.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return game.Account{}, game.ErrNotFound
	}
	return a, nil
}

func (t *memTx) AccountForUpdate(ctx context.Context, id string) (game.Account, error) {
	return t.Account(ctx, id)
}

func (t *memTx) AccountsForUpdate(ctx context.Context, ids ...string) (map[string]game.Account, error) {
	out := make(map[string]game.Account, len(ids))
	for _, id := range ids {
		a, err := t.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) UpdateAccount(_ context.Context, a game.Account) error {
	old, ok := t.st.accounts[a.ID]
	if !ok {
		return game.ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = t.now()
	t.st.accounts[a.ID] = a
	return nil
}

func (t *memTx) InsertPower(_ context.Context, p game.PowerInstance) error {
	if _, ok := t.st.accounts[p.AccountID]; !ok {
		return game.ErrNotFound
	}
	if p.AcquiredAt.IsZero() {
		p.AcquiredAt = t.now()
	}
	t.st.powers[p.ID] = p
	return nil
}

func (t *memTx) Power(_ context.Context, id string) (game.PowerInstance, error) {
	p, ok := t.st.powers[id]
	if !ok {
		return game.PowerInstance{}, game.ErrNotFound
	}
	return p, nil
}

func (t *memTx) PowersByAccount(_ context.Context, accountID string) ([]game.PowerInstance, error) {
	var out []game.PowerInstance
	for _, p := range t.st.powers {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CombatPower != out[j].CombatPower {
			return out[i].CombatPower > out[j].CombatPower
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) AppendEntries(_ context.Context, entries ...game.LedgerEntry) error {
	now := t.now()
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		t.st.entries = append(t.st.entries, e)
	}
	return nil
}

func (t *memTx) InsertCode(_ context.Context, c game.RedeemCode) error {
	if _, ok := t.st.codes[c.Code]; ok {
		return game.ErrCodeExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.now()
	}
	t.st.codes[c.Code] = c
	return nil
}

func (t *memTx) Code(_ context.Context, code string) (game.RedeemCode, error) {
	c, ok := t.st.codes[code]
	if !ok {
		return game.RedeemCode{}, game.ErrNotFound
	}
	return c, nil
}

func (t *memTx) CodeForUpdate(ctx context.Context, code string) (game.RedeemCode, error) {
	return t.Code(ctx, code)
}

func (t *memTx) SetCodeActive(_ context.Context, code string, active bool) error {
	c, ok := t.st.codes[code]
	if !ok {
		return game.ErrNotFound
	}
	c.Active = active
	t.st.codes[code] = c
	return nil
}

func (t *memTx) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for code, c := range t.st.codes {
		if c.Active && c.Expired(now) {
			c.Active = false
			t.st.codes[code] = c
			n++
		}
	}
	return n, nil
}

func (t *memTx) CountUsages(_ context.Context, code string) (int64, error) {
	return int64(len(t.st.usages[code])), nil
}

func (t *memTx) HasUsage(_ context.Context, code, accountID string) (bool, error) {
	_, ok := t.st.usages[code][accountID]
	return ok, nil
}

func (t *memTx) InsertUsage(_ context.Context, u game.CodeUsage) (bool, error) {
	byAccount, ok := t.st.usages[u.Code]
	if !ok {
		byAccount = map[string]game.CodeUsage{}
		t.st.usages[u.Code] = byAccount
	}
	if _, exists := byAccount[u.AccountID]; exists {
		return false, nil
	}
	if u.RedeemedAt.IsZero() {
		u.RedeemedAt = t.now()
	}
	byAccount[u.AccountID] = u
	return true, nil
}

func (t *memTx) Contenders(_ context.Context) ([]game.Contender, error) {
	out := make([]game.Contender, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		var equipped *game.PowerInstance
		if a.EquippedPowerID != nil {
			if p, ok := t.st.powers[*a.EquippedPowerID]; ok && p.AccountID == a.ID {
				equipped = &p
			}
		}
		out = append(out, game.Contender{
			AccountID:   a.ID,
			EffectiveCP: game.EffectiveCP(equipped, a.BonusCP),
			Wins:        a.Wins,
			Level:       a.Level,
		})
	}
	return out, nil
}

func (t *memTx) ReplaceRankings(_ context.Context, rows []game.RankPosition) error {
	t.st.rankings = append([]game.RankPosition(nil), rows...)
	return nil
}

func (t *memTx) Rankings(_ context.Context, limit int) ([]game.RankPosition, error) {
	rows := t.st.rankings
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return append([]game.RankPosition(nil), rows...), nil
}

func (t *memTx) Ranking(_ context.Context, accountID string) (game.RankPosition, error) {
	for _, r := range t.st.rankings {
		if r.AccountID == accountID {
			return r, nil
		}
	}
	return game.RankPosition{}, game.ErrNotFound
}
