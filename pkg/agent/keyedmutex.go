package agent

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per key while leaving different keys
// fully concurrent. Entries are reference counted and removed when the
// last holder releases, so idle conversations cost nothing.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewKeyedMutex returns an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the key is free and returns the unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
