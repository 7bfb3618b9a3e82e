// Package entity mirrors the authority's simulated actors.
package entity

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

type Appearance struct {
	Color string
	Shape string
	Size  float64
}

// Entity is the latest known snapshot of one actor. Personality and State are
// owned by the simulation and treated as opaque.
type Entity struct {
	ID            string
	Name          string
	Position      mgl64.Vec3
	Facing        mgl64.Vec2
	Appearance    Appearance
	Personality   json.RawMessage
	State         json.RawMessage
	Alive         bool
	God           bool
	MetaAwareness float64
	BirthTick     uint64
}

// Patch is a partial record. Nil fields are left untouched.
type Patch struct {
	ID            string
	Name          *string
	X             *float64
	Y             *float64
	Z             *float64
	Facing        *mgl64.Vec2
	Appearance    *Appearance
	State         json.RawMessage
	Alive         *bool
	MetaAwareness *float64
}

// PositionPatch moves an entity on the x/y plane, keeping z.
func PositionPatch(id string, x, y float64) Patch {
	return Patch{ID: id, X: &x, Y: &y}
}

func DeathPatch(id string) Patch {
	dead := false
	return Patch{ID: id, Alive: &dead}
}

// StaleFunc is told about patches that referenced ids the registry has never seen.
type StaleFunc func(missing []string)

type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Entity
	version uint64
	onStale StaleFunc
}

func NewRegistry(onStale StaleFunc) *Registry {
	return &Registry{byID: map[string]Entity{}, onStale: onStale}
}

// SetStaleHook replaces the hook; used when the owner is wired after construction.
func (r *Registry) SetStaleHook(fn StaleFunc) {
	r.mu.Lock()
	r.onStale = fn
	r.mu.Unlock()
}

// LoadBulk replaces the full map.
func (r *Registry) LoadBulk(entities []Entity) {
	m := make(map[string]Entity, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		m[e.ID] = e
	}
	r.mu.Lock()
	r.byID = m
	r.version++
	r.mu.Unlock()
}

// Patch merges partial records by id. Unknown ids are not created; they are
// returned and reported once per call to the stale hook.
func (r *Registry) Patch(patches ...Patch) (missing []string) {
	r.mu.Lock()
	changed := false
	for _, p := range patches {
		e, ok := r.byID[p.ID]
		if !ok {
			missing = append(missing, p.ID)
			continue
		}
		applyPatch(&e, p)
		r.byID[p.ID] = e
		changed = true
	}
	if changed {
		r.version++
	}
	hook := r.onStale
	r.mu.Unlock()

	if len(missing) > 0 && hook != nil {
		hook(missing)
	}
	return missing
}

func applyPatch(e *Entity, p Patch) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.X != nil {
		e.Position[0] = *p.X
	}
	if p.Y != nil {
		e.Position[1] = *p.Y
	}
	if p.Z != nil {
		e.Position[2] = *p.Z
	}
	if p.Facing != nil {
		e.Facing = *p.Facing
	}
	if p.Appearance != nil {
		e.Appearance = *p.Appearance
	}
	if p.State != nil {
		e.State = append(json.RawMessage(nil), p.State...)
	}
	if p.Alive != nil {
		e.Alive = *p.Alive
	}
	if p.MetaAwareness != nil {
		e.MetaAwareness = *p.MetaAwareness
	}
}

func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// All returns every entity sorted by id; dead entities included.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	out := make([]Entity, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot copies the map and returns the version it was taken at.
func (r *Registry) Snapshot() (map[string]Entity, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entity, len(r.byID))
	for k, v := range r.byID {
		out[k] = v
	}
	return out, r.version
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
