// Package idlock serializes concurrent operations on the same
// identifier. A registry of currently locked ARK keys is guarded by a
// condition variable; Acquire blocks until the key is free. Fairness
// is not guaranteed. The coordinator never holds two identifier locks
// at once, so deadlock is structurally impossible.
package idlock

import "sync"

// Registry is a set of locked keys with blocking acquisition.
type Registry struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked map[string]struct{}

	// waiting counts blocked acquirers per user, for status reporting.
	waiting map[string]int
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	r := &Registry{
		locked:  make(map[string]struct{}),
		waiting: make(map[string]int),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Acquire blocks until key is unlocked, then locks it. The user name
// is recorded while waiting so the status reporter can attribute
// blocked requests.
func (r *Registry) Acquire(key, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.locked[key]; held {
		r.waiting[user]++
		for {
			r.cond.Wait()
			if _, held := r.locked[key]; !held {
				break
			}
		}
		r.waiting[user]--
		if r.waiting[user] == 0 {
			delete(r.waiting, user)
		}
	}
	r.locked[key] = struct{}{}
}

// Release unlocks key and wakes all waiters.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locked, key)
	r.cond.Broadcast()
}

// NumLocked returns the number of identifiers currently locked (and
// thus being operated on).
func (r *Registry) NumLocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locked)
}

// Waiting returns a snapshot of blocked-acquirer counts by user.
func (r *Registry) Waiting() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]int, len(r.waiting))
	for u, n := range r.waiting {
		m[u] = n
	}
	return m
}
