// Package interest tracks which presence subjects the session should be
// subscribed to. Many UI consumers declare interest in the same user ids
// with unrelated lifetimes, so the registry reference-counts each subject
// and reports only the 0/1 boundary crossings that require wire traffic.
package interest

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// DefaultLimit bounds the number of distinct subjects held at once.
const DefaultLimit = 200

type entry struct {
	refs int
	seq  uint64 // insertion order, FIFO tiebreak for eviction
}

type Registry struct {
	mu      sync.Mutex
	limit   int
	nextSeq uint64
	entries map[string]*entry
}

func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Registry{
		limit:   limit,
		entries: make(map[string]*entry),
	}
}

// Add increments the refcount of each id. It returns the ids that crossed
// the 0→1 boundary and should be subscribed, and the ids evicted to stay
// under the registry bound, which must be explicitly unsubscribed.
// Duplicate ids count once per occurrence so Add and Remove stay symmetric.
func (r *Registry) Add(ids []string) (subscribe, evicted []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if id == "" {
			continue
		}
		e, ok := r.entries[id]
		if !ok {
			e = &entry{seq: r.nextSeq}
			r.nextSeq++
			r.entries[id] = e
			subscribe = append(subscribe, id)
		}
		e.refs++
	}

	evicted = r.evictLocked()
	// An id subscribed and evicted in the same call nets out to nothing.
	if len(evicted) > 0 {
		subscribe = lo.Without(subscribe, evicted...)
	}
	return subscribe, evicted
}

// Remove decrements the refcount of each id and returns the ids that
// reached zero and should be unsubscribed. Removing an unknown id (never
// added, or already evicted) is a no-op.
func (r *Registry) Remove(ids []string) (unsubscribe []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		e.refs--
		if e.refs <= 0 {
			delete(r.entries, id)
			unsubscribe = append(unsubscribe, id)
		}
	}
	return unsubscribe
}

// evictLocked drops lowest-refcount entries, oldest first among equals,
// until the registry is back under its bound.
func (r *Registry) evictLocked() []string {
	over := len(r.entries) - r.limit
	if over <= 0 {
		return nil
	}

	ids := lo.Keys(r.entries)
	slices.SortFunc(ids, func(a, b string) int {
		ea, eb := r.entries[a], r.entries[b]
		if ea.refs != eb.refs {
			return ea.refs - eb.refs
		}
		if ea.seq < eb.seq {
			return -1
		}
		return 1
	})

	evicted := ids[:over]
	for _, id := range evicted {
		delete(r.entries, id)
	}
	return slices.Clone(evicted)
}

// Keys snapshots the current subject set, used for resubscribe replay.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.entries)
}

// Refs reports the current refcount for one id; 0 if untracked.
func (r *Registry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.refs
	}
	return 0
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset drops every entry without reporting unsubscribes. Used on session
// teardown, where the transport is going away anyway.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}
