package workflow

import (
	"context"
	"sync"
)

// keyLock serialises work per key. Entries are reference counted and
// removed once nobody holds or waits for them.
type keyLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[string]*lockEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and is safe to call more than once.
func (l *keyLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ent := l.entries[key]
	if ent == nil {
		ent = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = ent
	}
	ent.refs++
	l.mu.Unlock()

	select {
	case ent.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, ent)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ent.sem
			l.release(key, ent)
		})
	}, nil
}

func (l *keyLock) release(key string, ent *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent.refs--
	if ent.refs == 0 {
		delete(l.entries, key)
	}
}

// size returns the number of live keys
func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
