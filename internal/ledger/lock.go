package ledger

import (
	"context"
	"sync"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

// KeyedLocker is an in-process exclusive lock per slot key. Different keys
// never contend. Entries are reference counted and dropped when unused.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[Key]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[Key]*lockEntry)}
}

// WithSlotLock runs fn while holding the lock for key. It gives up with a
// transient error if ctx ends before the lock is free.
func (l *KeyedLocker) WithSlotLock(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	e := l.ref(key)
	defer l.unref(key, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Transient("acquire slot lock "+key.String(), ctx.Err())
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (l *KeyedLocker) ref(key Key) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key Key, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys currently have waiters or holders.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
