package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAdvisory implements Backend with session-level Postgres advisory locks.
// Each held lock pins one pool connection until Unlock; Postgres drops the
// lock by itself when that connection dies. The pool should be dedicated to
// locks: sharing it with transactions lets lock holders exhaust it. When the
// pool is exhausted TryLock blocks until ctx ends, which the Manager reports
// as ErrTimeout.
type PGAdvisory struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[string]*pgxpool.Conn
}

func NewPGAdvisory(pool *pgxpool.Pool) *PGAdvisory {
	return &PGAdvisory{pool: pool, conns: map[string]*pgxpool.Conn{}}
}

func (p *PGAdvisory) TryLock(ctx context.Context, key, token string, _ time.Duration) (bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	p.mu.Lock()
	p.conns[token] = conn
	p.mu.Unlock()
	return true, nil
}

func (p *PGAdvisory) Unlock(ctx context.Context, key, token string) error {
	p.mu.Lock()
	conn, ok := p.conns[token]
	delete(p.conns, token)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	var released bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key).Scan(&released)
	if err != nil || !released {
		// Closing the session is the only other way to drop the lock.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
	if err != nil {
		return fmt.Errorf("advisory unlock %s: %w", key, err)
	}
	return nil
}
