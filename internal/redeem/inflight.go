package redeem

import "sync"

// Inflight tracks (code, account) pairs with a redemption underway in this
// process. It is scoped to the Service that owns it.
type Inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewInflight() *Inflight {
	return &Inflight{keys: map[string]struct{}{}}
}

// Begin marks the pair as in progress. ok is false if it already was; the
// returned release must be called exactly once when ok is true.
func (f *Inflight) Begin(code, accountID string) (release func(), ok bool) {
	key := code + "\x00" + accountID
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return nil, false
	}
	f.keys[key] = struct{}{}
	return func() {
		f.mu.Lock()
		delete(f.keys, key)
		f.mu.Unlock()
	}, true
}

func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
