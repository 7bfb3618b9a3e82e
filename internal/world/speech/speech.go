// Package speech holds the short-lived speech bubbles pushed by the authority.
package speech

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	DefaultTTL       = 8 * time.Second
	DefaultMaxEvents = 16
)

type Event struct {
	EntityID  string
	Text      string
	Origin    mgl64.Vec3
	HasOrigin bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Stopper interface {
	Stop() bool
}

type Options struct {
	TTL       time.Duration
	MaxEvents int

	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Stopper
}

// Router keeps a bounded queue of non-expired events. Events for the same
// entity do not replace each other.
type Router struct {
	ttl       time.Duration
	max       int
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Stopper

	mu      sync.Mutex
	events  []Event
	timers  map[uint64]Stopper
	nextID  uint64
	version uint64
	closed  bool
}

func NewRouter(opts Options) *Router {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
	}
	return &Router{
		ttl:       opts.TTL,
		max:       opts.MaxEvents,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		timers:    map[uint64]Stopper{},
	}
}

// Push appends an event and schedules its expiry. The oldest entries are
// dropped once the queue is full.
func (r *Router) Push(ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	ev.ExpiresAt = ev.CreatedAt.Add(r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, ev)
	if over := len(r.events) - r.max; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	r.version++

	r.nextID++
	id := r.nextID
	r.timers[id] = r.afterFunc(r.ttl, func() { r.expire(id) })
}

func (r *Router) expire(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)
	r.pruneLocked(r.now())
}

func (r *Router) pruneLocked(now time.Time) {
	kept := r.events[:0]
	for _, ev := range r.events {
		if now.Before(ev.ExpiresAt) {
			kept = append(kept, ev)
		}
	}
	if len(kept) != len(r.events) {
		for i := len(kept); i < len(r.events); i++ {
			r.events[i] = Event{}
		}
		r.events = kept
		r.version++
	}
}

// Current returns the live events, most recent first.
func (r *Router) Current() []Event {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for i := len(r.events) - 1; i >= 0; i-- {
		if now.Before(r.events[i].ExpiresAt) {
			out = append(out, r.events[i])
		}
	}
	return out
}

func (r *Router) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Close cancels pending expiry callbacks.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
