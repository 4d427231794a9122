package state

import "sync"

// keyedMutex is a map of per-key mutexes created on demand and
// reference-counted so dormant keys can be collected, per spec.md §4.3's
// suggested implementation for serializing increment/decrement per
// (scope-key, name).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu  sync.Mutex
	ref int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refCountedMutex)}
}

// lock acquires the mutex for key and returns a function that releases it
// and drops the entry once nobody else references it.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refCountedMutex{}
		k.locks[key] = entry
	}
	entry.ref++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.ref--
		if entry.ref == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
