package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/demoshot/internal/metrics"
)

// DefaultMaxParallel is the default number of live browser attempts.
const DefaultMaxParallel = 2

// Gate bounds the number of simultaneously live browser-backed attempts.
type Gate struct {
	sem chan struct{}
}

// NewGate returns a gate admitting at most n attempts. n <= 0 uses the default.
func NewGate(n int) *Gate {
	if n <= 0 {
		n = DefaultMaxParallel
	}
	return &Gate{sem: make(chan struct{}, n)}
}

// Capacity returns the admission limit.
func (g *Gate) Capacity() int {
	return cap(g.sem)
}

// Acquire blocks for a slot and returns its release function.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire capture slot: %w", err)
	}
	select {
	case g.sem <- struct{}{}:
		metrics.IncActiveBrowsers()
		var once sync.Once
		return func() {
			once.Do(func() {
				<-g.sem
				metrics.DecActiveBrowsers()
			})
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire capture slot: %w", ctx.Err())
	}
}

// KeyedMutex serializes work per key (slug) while letting distinct keys run
// concurrently. Entries are dropped once no holder or waiter remains.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key, honoring ctx while waiting.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, entry)
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.drop(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && k.locks[key] == entry {
		delete(k.locks, key)
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
