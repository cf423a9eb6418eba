// Package keyedmutex serializes work that shares a key — a session key or a
// workspace id — without serializing unrelated work, the way
// ghostpool.PoolManager tracks active resources in a map guarded by a single
// mutex and lets callers block only on the resource they actually want.
package keyedmutex

import "sync"

// entry is a per-key lock plus a reference count so Registry can garbage
// collect keys nobody holds anymore.
type entry struct {
	mu       sync.Mutex
	refCount int
}

// Registry hands out one *sync.Mutex-equivalent lock per key. Two callers
// locking the same key block each other; callers locking different keys
// never contend.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Lock blocks until the named key is free, then acquires it. The returned
// func releases the key and must be called exactly once, typically via
// defer.
func (r *Registry) Lock(key string) (unlock func()) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.refCount++
	r.mu.Unlock()

	e.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		r.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(r.entries, key)
		}
		r.mu.Unlock()
	}
}

// TryLock attempts to acquire the named key without blocking. It returns
// (unlock, true) on success, or (nil, false) if the key is already held.
func (r *Registry) TryLock(key string) (unlock func(), ok bool) {
	r.mu.Lock()
	e, exists := r.entries[key]
	if !exists {
		e = &entry{}
		r.entries[key] = e
	}
	e.refCount++
	r.mu.Unlock()

	if !e.mu.TryLock() {
		r.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		return nil, false
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		r.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(r.entries, key)
		}
		r.mu.Unlock()
	}, true
}

// Len reports the number of keys currently held or waited on. Intended for
// tests and metrics, not control flow.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
