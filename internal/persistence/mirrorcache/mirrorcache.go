// Package mirrorcache saves the last known mirror to disk so a client can
// warm-start when the authority is unreachable at boot.
package mirrorcache

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/klauspost/compress/zstd"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/clock"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

const currentVersion = 1

var ErrVersion = errors.New("unsupported mirror cache version")

type Header struct {
	Version  int    `json:"version"`
	SavedAt  string `json:"saved_at"`
	Tick     uint64 `json:"tick"`
	Voxels   int    `json:"voxels"`
	Entities int    `json:"entities"`
}

type SnapshotV1 struct {
	Header Header

	World      WorldV1
	Voxels     []VoxelV1
	Entities   []EntityV1
	Structures []StructureV1
}

type WorldV1 struct {
	Tick        uint64
	EntityCount int
	VoxelCount  int
	Paused      bool
	TimeSpeed   float64
	AuthorityID string
	GodPhase    string
}

type VoxelV1 struct {
	Pos       [3]int
	Color     string
	Material  string
	Collision bool
}

type EntityV1 struct {
	ID            string
	Name          string
	Pos           [3]float64
	Facing        [2]float64
	Color         string
	Shape         string
	Size          float64
	Personality   []byte
	State         []byte
	Alive         bool
	God           bool
	MetaAwareness float64
	BirthTick     uint64
}

type StructureV1 struct {
	ID   string
	Name string
	Kind string
	Min  [3]int
	Max  [3]int
	// Properties are kept as JSON; gob cannot encode arbitrary any values.
	Properties []byte
}

// Mirror is the in-memory form handed to and from the session.
type Mirror struct {
	World      clock.WorldSnapshot
	Voxels     []voxel.Voxel
	Entities   []entity.Entity
	Structures []clock.Structure
	SavedAt    time.Time
}

func Encode(m Mirror, now time.Time) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{
			Version:  currentVersion,
			SavedAt:  now.UTC().Format(time.RFC3339Nano),
			Tick:     m.World.Tick,
			Voxels:   len(m.Voxels),
			Entities: len(m.Entities),
		},
		World: WorldV1(m.World),
	}
	vs := append([]voxel.Voxel(nil), m.Voxels...)
	sort.Slice(vs, func(i, j int) bool { return lessCoord(vs[i].Coord, vs[j].Coord) })
	for _, v := range vs {
		snap.Voxels = append(snap.Voxels, VoxelV1{
			Pos:       [3]int{v.Coord.X, v.Coord.Y, v.Coord.Z},
			Color:     v.Color,
			Material:  string(v.Material),
			Collision: v.HasCollision,
		})
	}
	for _, e := range m.Entities {
		snap.Entities = append(snap.Entities, EntityV1{
			ID:            e.ID,
			Name:          e.Name,
			Pos:           e.Position,
			Facing:        e.Facing,
			Color:         e.Appearance.Color,
			Shape:         e.Appearance.Shape,
			Size:          e.Appearance.Size,
			Personality:   e.Personality,
			State:         e.State,
			Alive:         e.Alive,
			God:           e.God,
			MetaAwareness: e.MetaAwareness,
			BirthTick:     e.BirthTick,
		})
	}
	for _, s := range m.Structures {
		props, _ := json.Marshal(s.Properties)
		snap.Structures = append(snap.Structures, StructureV1{
			ID: s.ID, Name: s.Name, Kind: s.Kind, Min: s.Min, Max: s.Max, Properties: props,
		})
	}
	return snap
}

func (snap SnapshotV1) Decode() Mirror {
	m := Mirror{World: clock.WorldSnapshot(snap.World)}
	m.SavedAt, _ = time.Parse(time.RFC3339Nano, snap.Header.SavedAt)
	for _, v := range snap.Voxels {
		mat, err := voxel.ParseMaterial(v.Material)
		if err != nil {
			mat = voxel.MaterialSolid
		}
		m.Voxels = append(m.Voxels, voxel.Voxel{
			Coord:        voxel.Coord{X: v.Pos[0], Y: v.Pos[1], Z: v.Pos[2]},
			Color:        v.Color,
			Material:     mat,
			HasCollision: v.Collision,
		})
	}
	for _, e := range snap.Entities {
		m.Entities = append(m.Entities, entity.Entity{
			ID:            e.ID,
			Name:          e.Name,
			Position:      mgl64.Vec3(e.Pos),
			Facing:        mgl64.Vec2(e.Facing),
			Appearance:    entity.Appearance{Color: e.Color, Shape: e.Shape, Size: e.Size},
			Personality:   e.Personality,
			State:         e.State,
			Alive:         e.Alive,
			God:           e.God,
			MetaAwareness: e.MetaAwareness,
			BirthTick:     e.BirthTick,
		})
	}
	for _, s := range snap.Structures {
		var props map[string]any
		if len(s.Properties) > 0 {
			_ = json.Unmarshal(s.Properties, &props)
		}
		m.Structures = append(m.Structures, clock.Structure{
			ID: s.ID, Name: s.Name, Kind: s.Kind, Min: s.Min, Max: s.Max, Properties: props,
		})
	}
	return m
}

func lessCoord(a, b voxel.Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// Write stores the mirror at path, replacing any previous file atomically.
func Write(path string, m Mirror) error {
	if path == "" {
		return nil
	}
	return writeFileAtomic(path, func(f *os.File) error {
		return writeSnapshot(f, Encode(m, time.Now()))
	})
}

func writeSnapshot(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func writeFileAtomic(path string, fill func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}

// Read loads a mirror written by Write.
func Read(path string) (Mirror, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mirror{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Mirror{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return Mirror{}, fmt.Errorf("read header: %w", err)
	}
	var snap SnapshotV1
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return Mirror{}, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != currentVersion {
		return Mirror{}, fmt.Errorf("%w: %d", ErrVersion, snap.Header.Version)
	}
	return snap.Decode(), nil
}
