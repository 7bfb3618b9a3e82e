package render

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/speech"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

// HeadlessScene is a Scene that only keeps the resulting graph in memory.
// The probe CLI and tests draw into it.
type HeadlessScene struct {
	mu       sync.Mutex
	voxels   map[voxel.Coord]voxel.Voxel
	entities map[string]HeadlessEntity
	speech   []speech.Event
	ops      int
}

type HeadlessEntity struct {
	Entity   entity.Entity
	Position mgl64.Vec3
}

func NewHeadlessScene() *HeadlessScene {
	return &HeadlessScene{
		voxels:   map[voxel.Coord]voxel.Voxel{},
		entities: map[string]HeadlessEntity{},
	}
}

func (s *HeadlessScene) AddVoxel(v voxel.Voxel) {
	s.mu.Lock()
	s.voxels[v.Coord] = v
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) UpdateVoxel(v voxel.Voxel) { s.AddVoxel(v) }

func (s *HeadlessScene) RemoveVoxel(c voxel.Coord) {
	s.mu.Lock()
	delete(s.voxels, c)
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) AddEntity(e entity.Entity, pos mgl64.Vec3) {
	s.mu.Lock()
	s.entities[e.ID] = HeadlessEntity{Entity: e, Position: pos}
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) MoveEntity(id string, pos mgl64.Vec3, facing mgl64.Vec2) {
	s.mu.Lock()
	if he, ok := s.entities[id]; ok {
		he.Position = pos
		he.Entity.Facing = facing
		s.entities[id] = he
	}
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) UpdateEntity(e entity.Entity) {
	s.mu.Lock()
	if he, ok := s.entities[e.ID]; ok {
		he.Entity = e
		s.entities[e.ID] = he
	}
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) RemoveEntity(id string) {
	s.mu.Lock()
	delete(s.entities, id)
	s.ops++
	s.mu.Unlock()
}

func (s *HeadlessScene) ShowSpeech(events []speech.Event) {
	s.mu.Lock()
	s.speech = append([]speech.Event(nil), events...)
	s.mu.Unlock()
}

func (s *HeadlessScene) Voxels() map[voxel.Coord]voxel.Voxel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[voxel.Coord]voxel.Voxel, len(s.voxels))
	for c, v := range s.voxels {
		out[c] = v
	}
	return out
}

func (s *HeadlessScene) Entity(id string) (HeadlessEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	he, ok := s.entities[id]
	return he, ok
}

func (s *HeadlessScene) Speech() []speech.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Event(nil), s.speech...)
}

// Counts reports voxels, entities, bubbles and the number of graph mutations.
func (s *HeadlessScene) Counts() (voxels, entities, bubbles, ops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voxels), len(s.entities), len(s.speech), s.ops
}
