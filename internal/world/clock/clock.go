// Package clock tracks the authority's world snapshot and tick.
package clock

import (
	"sort"
	"sync"
)

// WorldSnapshot is the summary returned by the world state endpoint.
type WorldSnapshot struct {
	Tick        uint64
	EntityCount int
	VoxelCount  int
	Paused      bool
	TimeSpeed   float64
	AuthorityID string
	GodPhase    string
}

// Structure is a named bounding box reported by the authority.
type Structure struct {
	ID         string
	Name       string
	Kind       string
	Min        [3]int
	Max        [3]int
	Properties map[string]any
}

// Contains reports whether the integer point lies inside the box, bounds inclusive.
func (s Structure) Contains(x, y, z int) bool {
	return x >= s.Min[0] && x <= s.Max[0] &&
		y >= s.Min[1] && y <= s.Max[1] &&
		z >= s.Min[2] && z <= s.Max[2]
}

// Tracker never lets the observed tick go backwards.
type Tracker struct {
	mu         sync.RWMutex
	snap       WorldSnapshot
	structures map[string]Structure
	version    uint64
}

func NewTracker() *Tracker {
	return &Tracker{structures: map[string]Structure{}}
}

// Apply replaces the snapshot unless it is older than what was already seen.
// A stale snapshot returns false and changes nothing.
func (t *Tracker) Apply(s WorldSnapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Tick < t.snap.Tick {
		return false
	}
	t.snap = s
	t.version++
	return true
}

// AdvanceTick moves the tick forward to tick if it is newer.
func (t *Tracker) AdvanceTick(tick uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tick <= t.snap.Tick {
		return false
	}
	t.snap.Tick = tick
	t.version++
	return true
}

func (t *Tracker) Snapshot() WorldSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) Tick() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Tick
}

func (t *Tracker) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// LoadStructures replaces the known structures. Entries without an id are skipped.
func (t *Tracker) LoadStructures(list []Structure) {
	m := make(map[string]Structure, len(list))
	for _, s := range list {
		if s.ID == "" {
			continue
		}
		m[s.ID] = s
	}
	t.mu.Lock()
	t.structures = m
	t.version++
	t.mu.Unlock()
}

// Structure looks up one structure by id.
func (t *Tracker) Structure(id string) (Structure, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.structures[id]
	return s, ok
}

// Structures returns all structures sorted by id.
func (t *Tracker) Structures() []Structure {
	t.mu.RLock()
	out := make([]Structure, 0, len(t.structures))
	for _, s := range t.structures {
		out = append(out, s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StructureAt returns the first structure (by id) containing the point.
func (t *Tracker) StructureAt(x, y, z int) (Structure, bool) {
	for _, s := range t.Structures() {
		if s.Contains(x, y, z) {
			return s, true
		}
	}
	return Structure{}, false
}
