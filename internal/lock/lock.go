// Package lock provides named, timed mutual exclusion keyed by logical
// resource identifiers.
//
// A Manager polls a Backend until the key is free or the timeout elapses.
// Backends decide the scope of exclusion: PGAdvisory and Redis exclude across
// every process sharing the database or Redis instance, Memory only within
// the current process. Locks are not reentrant: acquiring a key the caller
// already holds waits until the timeout.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrTimeout = errors.New("lock wait timed out")

const (
	DefaultTimeout       = 30 * time.Second
	DefaultCeiling       = 5 * time.Minute
	DefaultRetryInterval = 50 * time.Millisecond
)

// Backend is the storage primitive behind a Manager. TryLock must not block
// waiting for the key; ttl is the hard ceiling after which the backend may
// drop the lock on its own.
type Backend interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

func AccountKey(id string) string {
	return "account:" + id
}

// PairKey is identical for (a, b) and (b, a), so two transfers in opposite
// directions contend on the same key instead of deadlocking.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "accounts:" + a + ":" + b
}

func CodeKey(code string) string {
	return "code:" + code
}

type Options struct {
	Timeout       time.Duration
	Ceiling       time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

type Manager struct {
	backend       Backend
	timeout       time.Duration
	ceiling       time.Duration
	retryInterval time.Duration
	log           *slog.Logger
	now           func() time.Time

	mu   sync.Mutex
	held map[string]*Handle
}

func NewManager(backend Backend, opts Options) *Manager {
	m := &Manager{
		backend:       backend,
		timeout:       opts.Timeout,
		ceiling:       opts.Ceiling,
		retryInterval: opts.RetryInterval,
		log:           opts.Logger,
		now:           time.Now,
		held:          map[string]*Handle{},
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.ceiling <= 0 {
		m.ceiling = DefaultCeiling
	}
	if m.retryInterval <= 0 {
		m.retryInterval = DefaultRetryInterval
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

type Handle struct {
	m          *Manager
	key        string
	token      string
	acquiredAt time.Time

	once sync.Once
	err  error
}

func (h *Handle) Key() string { return h.key }

// Release gives the lock back. Calling it more than once is safe.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.m.mu.Lock()
		delete(h.m.held, h.token)
		h.m.mu.Unlock()
		h.err = h.m.backend.Unlock(ctx, h.key, h.token)
	})
	return h.err
}

// Acquire waits for key. A timeout <= 0 uses the manager default. The
// deadline also bounds each backend call, so a backend stuck waiting for a
// connection ends in ErrTimeout rather than outliving the wait.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	token := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s after %s", ErrTimeout, key, timeout)
	}

	for {
		ok, err := m.backend.TryLock(waitCtx, key, token, m.ceiling)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, timedOut()
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			h := &Handle{m: m, key: key, token: token, acquiredAt: m.now()}
			m.mu.Lock()
			m.held[token] = h
			m.mu.Unlock()
			return h, nil
		}

		wait := time.NewTimer(m.retryInterval)
		select {
		case <-waitCtx.Done():
			wait.Stop()
			return nil, timedOut()
		case <-wait.C:
		}
	}
}

// Do runs fn while holding key and releases it on every exit path.
func (m *Manager) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	h, err := m.Acquire(ctx, key, 0)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := h.Release(releaseCtx); err != nil {
			m.log.Error("lock release failed", "key", key, "err", err)
		}
	}()
	return fn(ctx)
}

// Sweep force-releases locks this manager has held for longer than the
// ceiling and returns how many it released.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.ceiling)
	m.mu.Lock()
	var stale []*Handle
	for _, h := range m.held {
		if h.acquiredAt.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	m.mu.Unlock()

	for _, h := range stale {
		m.log.Warn("releasing lock held past ceiling", "key", h.key, "held_since", h.acquiredAt)
		if err := h.Release(ctx); err != nil {
			m.log.Error("forced lock release failed", "key", h.key, "err", err)
		}
	}
	return len(stale)
}

func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
