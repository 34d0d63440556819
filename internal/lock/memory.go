package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// Memory excludes within the current process only.
type Memory struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.locks[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	m.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.token == token {
		delete(m.locks, key)
	}
	return nil
}
