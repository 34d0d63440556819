// Package postgres implements store.Store on a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/store"
)

var ErrTxConflict = errors.New("transaction conflict, retry later")

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, log: logger}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InTx retries fn on serialization failures and deadlocks with exponential
// backoff; any other error is returned after rollback.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	const maxAttempts = 6
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		s.log.Warn("retrying transaction", "attempt", attempt+1, "err", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < time.Second {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type pgTx struct {
	tx pgx.Tx
}

const accountColumns = `id, wallet, bank, draw_credits, equipped_power_id, bonus_cp, wins, losses, xp, level, created_at, updated_at`

func scanAccount(row pgx.Row) (game.Account, error) {
	var a game.Account
	err := row.Scan(&a.ID, &a.Wallet, &a.Bank, &a.DrawCredits, &a.EquippedPowerID, &a.BonusCP,
		&a.Wins, &a.Losses, &a.XP, &a.Level, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, game.ErrNotFound
	}
	return a, err
}

func (t *pgTx) CreateAccount(ctx context.Context, a game.Account) error {
	if a.Level == 0 {
		a.Level = 1
	}
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (id, wallet, bank, draw_credits, bonus_cp, xp, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.Wallet, a.Bank, a.DrawCredits, a.BonusCP, a.XP, a.Level)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrAccountExists
	}
	return nil
}

func (t *pgTx) Account(ctx context.Context, id string) (game.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id string) (game.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) AccountsForUpdate(ctx context.Context, ids ...string) (map[string]game.Account, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]game.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("account %s: %w", id, game.ErrNotFound)
		}
	}
	return out, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a game.Account) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET wallet = $2,
		    bank = $3,
		    draw_credits = $4,
		    equipped_power_id = $5,
		    bonus_cp = $6,
		    wins = $7,
		    losses = $8,
		    xp = $9,
		    level = $10,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.Wallet, a.Bank, a.DrawCredits, a.EquippedPowerID, a.BonusCP, a.Wins, a.Losses, a.XP, a.Level)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrNotFound
	}
	return nil
}

const powerColumns = `id, account_id, definition_id, name, rank, combat_power, acquired_at`

func scanPower(row pgx.Row) (game.PowerInstance, error) {
	var p game.PowerInstance
	err := row.Scan(&p.ID, &p.AccountID, &p.DefinitionID, &p.Name, &p.Rank, &p.CombatPower, &p.AcquiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, game.ErrNotFound
	}
	return p, err
}

func (t *pgTx) InsertPower(ctx context.Context, p game.PowerInstance) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO power_instances (id, account_id, definition_id, name, rank, combat_power)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.AccountID, p.DefinitionID, p.Name, p.Rank, p.CombatPower)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return game.ErrNotFound
		}
		return fmt.Errorf("insert power: %w", err)
	}
	return nil
}

func (t *pgTx) Power(ctx context.Context, id string) (game.PowerInstance, error) {
	return scanPower(t.tx.QueryRow(ctx, `SELECT `+powerColumns+` FROM power_instances WHERE id = $1`, id))
}

func (t *pgTx) PowersByAccount(ctx context.Context, accountID string) ([]game.PowerInstance, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+powerColumns+`
		FROM power_instances
		WHERE account_id = $1
		ORDER BY combat_power DESC, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select powers: %w", err)
	}
	defer rows.Close()
	var out []game.PowerInstance
	for rows.Next() {
		p, err := scanPower(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) AppendEntries(ctx context.Context, entries ...game.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ledger_entries (tx_group_id, account_id, field, delta, balance, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.TxGroupID, e.AccountID, e.Field, e.Delta, e.Balance, e.Reason)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append ledger entries: %w", err)
	}
	return nil
}

func (t *pgTx) InsertCode(ctx context.Context, c game.RedeemCode) error {
	rewards, err := game.MarshalRewards(c.Rewards)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO redeem_codes (code, description, rewards, max_uses, expires_at, active)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
	`, c.Code, c.Description, string(rewards), c.MaxUses, c.ExpiresAt, c.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return game.ErrCodeExists
		}
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (t *pgTx) scanCode(row pgx.Row) (game.RedeemCode, error) {
	var c game.RedeemCode
	var rewards []byte
	err := row.Scan(&c.Code, &c.Description, &rewards, &c.MaxUses, &c.ExpiresAt, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, game.ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Rewards, err = game.UnmarshalRewards(rewards)
	return c, err
}

func (t *pgTx) Code(ctx context.Context, code string) (game.RedeemCode, error) {
	return t.scanCode(t.tx.QueryRow(ctx, `
		SELECT code, description, rewards, max_uses, expires_at, active, created_at
		FROM redeem_codes
		WHERE code = $1
	`, code))
}

func (t *pgTx) CodeForUpdate(ctx context.Context, code string) (game.RedeemCode, error) {
	return t.scanCode(t.tx.QueryRow(ctx, `
		SELECT code, description, rewards, max_uses, expires_at, active, created_at
		FROM redeem_codes
		WHERE code = $1
		FOR UPDATE
	`, code))
}

func (t *pgTx) SetCodeActive(ctx context.Context, code string, active bool) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE redeem_codes SET active = $2 WHERE code = $1`, code, active)
	if err != nil {
		return fmt.Errorf("update code: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE redeem_codes
		SET active = false
		WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired codes: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (t *pgTx) CountUsages(ctx context.Context, code string) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(1) FROM code_usages WHERE code = $1`, code).Scan(&n)
	return n, err
}

func (t *pgTx) HasUsage(ctx context.Context, code, accountID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM code_usages WHERE code = $1 AND account_id = $2)
	`, code, accountID).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertUsage(ctx context.Context, u game.CodeUsage) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO code_usages (code, account_id)
		VALUES ($1, $2)
		ON CONFLICT (code, account_id) DO NOTHING
	`, u.Code, u.AccountID)
	if err != nil {
		return false, fmt.Errorf("insert code usage: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *pgTx) Contenders(ctx context.Context) ([]game.Contender, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT a.id,
		       a.bonus_cp + COALESCE(p.combat_power, 0) AS effective_cp,
		       a.wins,
		       a.level
		FROM accounts a
		LEFT JOIN power_instances p ON p.id = a.equipped_power_id AND p.account_id = a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("select contenders: %w", err)
	}
	defer rows.Close()
	var out []game.Contender
	for rows.Next() {
		var c game.Contender
		if err := rows.Scan(&c.AccountID, &c.EffectiveCP, &c.Wins, &c.Level); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceRankings swaps the whole ranking table. The EXCLUSIVE table lock
// queues overlapping recomputes so the second DELETE sees the first's rows;
// plain readers are not blocked.
func (t *pgTx) ReplaceRankings(ctx context.Context, rows []game.RankPosition) error {
	if _, err := t.tx.Exec(ctx, `LOCK TABLE arena_rankings IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock rankings: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM arena_rankings`); err != nil {
		return fmt.Errorf("clear rankings: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"arena_rankings"},
		[]string{"account_id", "position", "effective_cp", "wins", "level", "computed_at"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.AccountID, r.Position, r.EffectiveCP, r.Wins, r.Level, r.ComputedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy rankings: %w", err)
	}
	return nil
}

func (t *pgTx) Rankings(ctx context.Context, limit int) ([]game.RankPosition, error) {
	query := `
		SELECT account_id, position, effective_cp, wins, level, computed_at
		FROM arena_rankings
		ORDER BY position
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rankings: %w", err)
	}
	defer rows.Close()
	var out []game.RankPosition
	for rows.Next() {
		var r game.RankPosition
		if err := rows.Scan(&r.AccountID, &r.Position, &r.EffectiveCP, &r.Wins, &r.Level, &r.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) Ranking(ctx context.Context, accountID string) (game.RankPosition, error) {
	var r game.RankPosition
	err := t.tx.QueryRow(ctx, `
		SELECT account_id, position, effective_cp, wins, level, computed_at
		FROM arena_rankings
		WHERE account_id = $1
	`, accountID).Scan(&r.AccountID, &r.Position, &r.EffectiveCP, &r.Wins, &r.Level, &r.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, game.ErrNotFound
	}
	return r, err
}
