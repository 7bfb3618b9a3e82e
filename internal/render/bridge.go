// Package render adapts the mirrored world stores to a scene graph. It keeps
// only what it last drew, so a new Bridge over the same stores redraws the
// whole scene on its first frame.
package render

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/speech"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

const (
	DefaultInterpRate   = 8.0
	DefaultSnapDistance = 20.0

	settleDistance = 1e-3
)

var ErrNoTool = errors.New("no build tool active")

// Scene is the scene graph the bridge drives.
type Scene interface {
	AddVoxel(v voxel.Voxel)
	UpdateVoxel(v voxel.Voxel)
	RemoveVoxel(c voxel.Coord)

	AddEntity(e entity.Entity, pos mgl64.Vec3)
	MoveEntity(id string, pos mgl64.Vec3, facing mgl64.Vec2)
	UpdateEntity(e entity.Entity)
	RemoveEntity(id string)

	ShowSpeech(events []speech.Event)
}

type VoxelSource interface {
	Snapshot() (map[voxel.Coord]voxel.Voxel, uint64)
	Version() uint64
}

type EntitySource interface {
	Snapshot() (map[string]entity.Entity, uint64)
	Version() uint64
}

type SpeechSource interface {
	Current() []speech.Event
	Version() uint64
}

// Tool turns a stroke at a cell into a gesture; build.Session implements it.
type Tool interface {
	GestureAt(c voxel.Coord, agentID string) (build.Gesture, bool)
}

type Submitter interface {
	Submit(ctx context.Context, g build.Gesture) (*build.Proposal, error)
}

type Options struct {
	// InterpRate is the exponential approach rate per second.
	InterpRate float64
	// SnapDistance makes entities jump instead of glide when they are
	// further than this from their target. Zero disables snapping.
	SnapDistance float64
	AgentID      string

	Tool      Tool
	Submitter Submitter
	Logger    *zap.Logger
}

type FrameStats struct {
	VoxelsAdded     int
	VoxelsUpdated   int
	VoxelsRemoved   int
	EntitiesAdded   int
	EntitiesUpdated int
	EntitiesRemoved int
	EntitiesMoving  int
	SpeechShown     bool
}

type drawnEntity struct {
	ent    entity.Entity
	pos    mgl64.Vec3
	target mgl64.Vec3
}

type Bridge struct {
	voxels   VoxelSource
	entities EntitySource
	speech   SpeechSource
	scene    Scene
	opts     Options
	log      *zap.Logger

	// Frame state; only touched from the frame goroutine.
	primed    bool
	voxelVer  uint64
	entityVer uint64
	speechVer uint64
	drawnVox  map[voxel.Coord]voxel.Voxel
	drawnEnt  map[string]*drawnEntity

	mu      sync.Mutex
	camera  mgl64.Vec3
	onClick []func(id string)
	known   map[string]bool
}

func NewBridge(vs VoxelSource, es EntitySource, ss SpeechSource, scene Scene, opts Options) *Bridge {
	if opts.InterpRate <= 0 {
		opts.InterpRate = DefaultInterpRate
	}
	if opts.SnapDistance < 0 {
		opts.SnapDistance = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{
		voxels:   vs,
		entities: es,
		speech:   ss,
		scene:    scene,
		opts:     opts,
		log:      opts.Logger.Named("render"),
		drawnVox: map[voxel.Coord]voxel.Voxel{},
		drawnEnt: map[string]*drawnEntity{},
		known:    map[string]bool{},
	}
}

// Frame advances the scene by dt. Stores are only diffed when their version
// moved since the last frame.
func (b *Bridge) Frame(dt time.Duration) FrameStats {
	var st FrameStats
	first := !b.primed
	b.primed = true

	if first || b.voxels.Version() != b.voxelVer {
		b.syncVoxels(&st)
	}
	if first || b.entities.Version() != b.entityVer {
		b.syncEntities(&st)
	}
	b.interpolate(dt, &st)
	if first || b.speech.Version() != b.speechVer {
		b.speechVer = b.speech.Version()
		b.scene.ShowSpeech(b.anchorSpeech(b.speech.Current()))
		st.SpeechShown = true
	}
	if first {
		b.log.Debug("scene reconstructed",
			zap.Int("voxels", len(b.drawnVox)),
			zap.Int("entities", len(b.drawnEnt)),
		)
	}
	return st
}

func (b *Bridge) syncVoxels(st *FrameStats) {
	snap, ver := b.voxels.Snapshot()
	b.voxelVer = ver
	for c, v := range snap {
		old, ok := b.drawnVox[c]
		switch {
		case !ok:
			b.scene.AddVoxel(v)
			st.VoxelsAdded++
		case old != v:
			b.scene.UpdateVoxel(v)
			st.VoxelsUpdated++
		default:
			continue
		}
		b.drawnVox[c] = v
	}
	for c := range b.drawnVox {
		if _, ok := snap[c]; !ok {
			b.scene.RemoveVoxel(c)
			delete(b.drawnVox, c)
			st.VoxelsRemoved++
		}
	}
}

func (b *Bridge) syncEntities(st *FrameStats) {
	snap, ver := b.entities.Snapshot()
	b.entityVer = ver
	for id, e := range snap {
		d, ok := b.drawnEnt[id]
		if !ok {
			b.drawnEnt[id] = &drawnEntity{ent: e, pos: e.Position, target: e.Position}
			b.scene.AddEntity(e, e.Position)
			st.EntitiesAdded++
			continue
		}
		if !sameLook(d.ent, e) {
			b.scene.UpdateEntity(e)
			st.EntitiesUpdated++
		}
		d.ent = e
		d.target = e.Position
	}
	for id := range b.drawnEnt {
		if _, ok := snap[id]; !ok {
			b.scene.RemoveEntity(id)
			delete(b.drawnEnt, id)
			st.EntitiesRemoved++
		}
	}

	b.mu.Lock()
	clear(b.known)
	for id := range b.drawnEnt {
		b.known[id] = true
	}
	b.mu.Unlock()
}

func (b *Bridge) interpolate(dt time.Duration, st *FrameStats) {
	alpha := 1 - math.Exp(-b.opts.InterpRate*dt.Seconds())
	for id, d := range b.drawnEnt {
		if d.pos == d.target {
			continue
		}
		gap := d.target.Sub(d.pos)
		dist := gap.Len()
		switch {
		case b.opts.SnapDistance > 0 && dist > b.opts.SnapDistance:
			d.pos = d.target
		case dist*(1-alpha) < settleDistance:
			d.pos = d.target
		default:
			d.pos = d.pos.Add(gap.Mul(alpha))
			st.EntitiesMoving++
		}
		b.scene.MoveEntity(id, d.pos, d.ent.Facing)
	}
}

// anchorSpeech places bubbles without an origin above the speaker.
func (b *Bridge) anchorSpeech(events []speech.Event) []speech.Event {
	for i := range events {
		if events[i].HasOrigin {
			continue
		}
		if d, ok := b.drawnEnt[events[i].EntityID]; ok {
			events[i].Origin = d.pos
			events[i].HasOrigin = true
		}
	}
	return events
}

func sameLook(a, b entity.Entity) bool {
	return a.Name == b.Name &&
		a.Appearance == b.Appearance &&
		a.Alive == b.Alive &&
		a.God == b.God &&
		a.MetaAwareness == b.MetaAwareness &&
		a.Facing == b.Facing &&
		bytes.Equal(a.State, b.State)
}

// RenderedPosition is where the entity is currently drawn.
func (b *Bridge) RenderedPosition(id string) (mgl64.Vec3, bool) {
	d, ok := b.drawnEnt[id]
	if !ok {
		return mgl64.Vec3{}, false
	}
	return d.pos, true
}

// OnEntityClick registers fn for entity clicks.
func (b *Bridge) OnEntityClick(fn func(id string)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.onClick = append(b.onClick, fn)
	b.mu.Unlock()
}

// ClickEntity reports a click on a drawn entity. Clicks on ids that are not
// in the scene are ignored.
func (b *Bridge) ClickEntity(id string) bool {
	b.mu.Lock()
	if !b.known[id] {
		b.mu.Unlock()
		return false
	}
	fns := append([]func(string){}, b.onClick...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
	return true
}

func (b *Bridge) CameraPosition() mgl64.Vec3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.camera
}

func (b *Bridge) SetCamera(pos mgl64.Vec3) {
	b.mu.Lock()
	b.camera = pos
	b.mu.Unlock()
}

// Stroke applies the active build tool at c.
func (b *Bridge) Stroke(ctx context.Context, c voxel.Coord) (*build.Proposal, error) {
	if b.opts.Tool == nil || b.opts.Submitter == nil {
		return nil, ErrNoTool
	}
	g, ok := b.opts.Tool.GestureAt(c, b.opts.AgentID)
	if !ok {
		return nil, ErrNoTool
	}
	return b.opts.Submitter.Submit(ctx, g)
}
