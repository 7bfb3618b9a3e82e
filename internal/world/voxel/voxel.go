// Package voxel mirrors the authority's sparse voxel field.
package voxel

import (
	"fmt"
	"strings"
	"sync"
)

type Material string

const (
	MaterialSolid    Material = "solid"
	MaterialEmissive Material = "emissive"
	MaterialGlass    Material = "glass"
	MaterialLiquid   Material = "liquid"
)

func ParseMaterial(s string) (Material, error) {
	switch m := Material(strings.ToLower(strings.TrimSpace(s))); m {
	case MaterialSolid, MaterialEmissive, MaterialGlass, MaterialLiquid:
		return m, nil
	case "":
		return MaterialSolid, nil
	default:
		return "", fmt.Errorf("unknown material: %q", s)
	}
}

// DefaultCollision is the collision flag implied by a material.
func DefaultCollision(m Material) bool {
	return m != MaterialLiquid
}

type Coord struct {
	X int
	Y int
	Z int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

type Voxel struct {
	Coord        Coord
	Color        string
	Material     Material
	HasCollision bool
}

// Delta is one add, mutation or removal at a coordinate.
type Delta struct {
	Coord  Coord
	Remove bool
	Voxel  Voxel
}

func Put(v Voxel) Delta    { return Delta{Coord: v.Coord, Voxel: v} }
func Remove(c Coord) Delta { return Delta{Coord: c, Remove: true} }

// Restore builds the delta that puts a coordinate back to a previously read state.
func Restore(c Coord, prev Voxel, had bool) Delta {
	if !had {
		return Remove(c)
	}
	prev.Coord = c
	return Put(prev)
}

// Field is safe for concurrent use. Reads never block on network work.
type Field struct {
	mu      sync.RWMutex
	cells   map[Coord]Voxel
	version uint64
}

func NewField() *Field {
	return &Field{cells: map[Coord]Voxel{}}
}

// LoadBulk replaces the whole field.
func (f *Field) LoadBulk(voxels []Voxel) {
	cells := make(map[Coord]Voxel, len(voxels))
	for _, v := range voxels {
		cells[v.Coord] = v
	}
	f.mu.Lock()
	f.cells = cells
	f.version++
	f.mu.Unlock()
}

// ApplyDelta merges deltas in order; the last write per coordinate wins.
func (f *Field) ApplyDelta(deltas ...Delta) {
	if len(deltas) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range deltas {
		if d.Remove {
			delete(f.cells, d.Coord)
			continue
		}
		v := d.Voxel
		v.Coord = d.Coord
		f.cells[d.Coord] = v
	}
	f.version++
}

func (f *Field) Get(c Coord) (Voxel, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.cells[c]
	return v, ok
}

func (f *Field) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cells)
}

// Version increases on every mutation.
func (f *Field) Version() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Snapshot returns a copy of the field and the version it was taken at.
func (f *Field) Snapshot() (map[Coord]Voxel, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[Coord]Voxel, len(f.cells))
	for k, v := range f.cells {
		out[k] = v
	}
	return out, f.version
}

// InBox returns the voxels inside the inclusive box [min, max].
func (f *Field) InBox(min, max Coord) []Voxel {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Voxel
	for c, v := range f.cells {
		if c.X < min.X || c.Y < min.Y || c.Z < min.Z || c.X > max.X || c.Y > max.Y || c.Z > max.Z {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ReplaceBox swaps every voxel inside [min, max] for the given set, leaving
// the rest of the field untouched. Used for targeted resyncs.
func (f *Field) ReplaceBox(min, max Coord, voxels []Voxel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.cells {
		if c.X < min.X || c.Y < min.Y || c.Z < min.Z || c.X > max.X || c.Y > max.Y || c.Z > max.Z {
			continue
		}
		delete(f.cells, c)
	}
	for _, v := range voxels {
		f.cells[v.Coord] = v
	}
	f.version++
}
