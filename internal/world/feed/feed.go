// Package feed keeps a short display history of notable world happenings.
package feed

import (
	"sync"
	"time"
)

const DefaultMaxItems = 50

type Item struct {
	Kind       string
	Tick       uint64
	Summary    string
	ReceivedAt time.Time
}

// Ring is a bounded buffer; the oldest item is overwritten when full.
type Ring struct {
	mu      sync.RWMutex
	items   []Item
	next    int
	full    bool
	version uint64
	now     func() time.Time
}

func NewRing(max int) *Ring {
	if max <= 0 {
		max = DefaultMaxItems
	}
	return &Ring{items: make([]Item, max), now: time.Now}
}

func (r *Ring) Add(it Item) {
	if it.ReceivedAt.IsZero() {
		it.ReceivedAt = r.now()
	}
	r.mu.Lock()
	r.items[r.next] = it
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	r.version++
	r.mu.Unlock()
}

// Recent returns up to limit items, most recent first. limit<=0 means all.
func (r *Ring) Recent(limit int) []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.next
	if r.full {
		n = len(r.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Item, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}

func (r *Ring) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
