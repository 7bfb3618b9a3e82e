package render

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/speech"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type stores struct {
	field  *voxel.Field
	reg    *entity.Registry
	speech *speech.Router
}

func newStores(t *testing.T) stores {
	t.Helper()
	s := stores{
		field:  voxel.NewField(),
		reg:    entity.NewRegistry(nil),
		speech: speech.NewRouter(speech.Options{TTL: time.Hour}),
	}
	t.Cleanup(s.speech.Close)
	s.field.LoadBulk([]voxel.Voxel{
		{Coord: voxel.Coord{X: 0, Y: 0, Z: 0}, Color: "#111111", Material: voxel.MaterialSolid, HasCollision: true},
		{Coord: voxel.Coord{X: 1, Y: 0, Z: 0}, Color: "#222222", Material: voxel.MaterialGlass, HasCollision: true},
	})
	s.reg.LoadBulk([]entity.Entity{
		{ID: "a", Name: "Aria", Position: mgl64.Vec3{0, 0, 1}, Alive: true},
		{ID: "b", Name: "Bo", Position: mgl64.Vec3{5, 5, 1}, Alive: true},
	})
	return s
}

func (s stores) bridge(scene Scene, opts Options) *Bridge {
	return NewBridge(s.field, s.reg, s.speech, scene, opts)
}

func TestBridge_FirstFrameDrawsEverything(t *testing.T) {
	s := newStores(t)
	s.speech.Push(speech.Event{EntityID: "a", Text: "hello"})

	scene := NewHeadlessScene()
	st := s.bridge(scene, Options{}).Frame(16 * time.Millisecond)

	require.Equal(t, 2, st.VoxelsAdded)
	require.Equal(t, 2, st.EntitiesAdded)
	require.True(t, st.SpeechShown)

	bubbles := scene.Speech()
	require.Len(t, bubbles, 1)
	require.True(t, bubbles[0].HasOrigin, "bubble should be anchored on its speaker")
	require.Equal(t, mgl64.Vec3{0, 0, 1}, bubbles[0].Origin)
}

func TestBridge_DiffsOnlyWhenStoresChange(t *testing.T) {
	s := newStores(t)
	scene := NewHeadlessScene()
	b := s.bridge(scene, Options{})
	b.Frame(0)

	_, _, _, opsBefore := scene.Counts()
	st := b.Frame(16 * time.Millisecond)
	require.Equal(t, FrameStats{}, st)
	_, _, _, opsAfter := scene.Counts()
	require.Equal(t, opsBefore, opsAfter)

	s.field.ApplyDelta(
		voxel.Remove(voxel.Coord{X: 0, Y: 0, Z: 0}),
		voxel.Put(voxel.Voxel{Coord: voxel.Coord{X: 1, Y: 0, Z: 0}, Color: "#ff0000", Material: voxel.MaterialGlass, HasCollision: true}),
		voxel.Put(voxel.Voxel{Coord: voxel.Coord{X: 2, Y: 0, Z: 0}, Color: "#00ff00", Material: voxel.MaterialSolid, HasCollision: true}),
	)
	st = b.Frame(16 * time.Millisecond)
	require.Equal(t, 1, st.VoxelsAdded)
	require.Equal(t, 1, st.VoxelsUpdated)
	require.Equal(t, 1, st.VoxelsRemoved)
	require.Equal(t, "#ff0000", scene.Voxels()[voxel.Coord{X: 1, Y: 0, Z: 0}].Color)
}

func TestBridge_FreshBridgeReconstructsScene(t *testing.T) {
	s := newStores(t)
	s.speech.Push(speech.Event{EntityID: "b", Text: "hi"})

	first := NewHeadlessScene()
	b1 := s.bridge(first, Options{})
	b1.Frame(0)
	s.field.ApplyDelta(voxel.Remove(voxel.Coord{X: 1, Y: 0, Z: 0}))
	s.reg.Patch(entity.DeathPatch("b"))
	b1.Frame(time.Second)

	second := NewHeadlessScene()
	s.bridge(second, Options{}).Frame(0)

	require.Equal(t, first.Voxels(), second.Voxels())
	for _, id := range []string{"a", "b"} {
		want, ok := first.Entity(id)
		require.True(t, ok)
		got, ok := second.Entity(id)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.Equal(t, first.Speech(), second.Speech())
}

func TestBridge_InterpolatesTowardTarget(t *testing.T) {
	s := newStores(t)
	scene := NewHeadlessScene()
	b := s.bridge(scene, Options{InterpRate: 8, SnapDistance: 20})
	b.Frame(0)

	s.reg.Patch(entity.PositionPatch("a", 10, 0))
	st := b.Frame(100 * time.Millisecond)
	require.Equal(t, 1, st.EntitiesMoving)

	pos, ok := b.RenderedPosition("a")
	require.True(t, ok)
	require.Greater(t, pos.X(), 0.0)
	require.Less(t, pos.X(), 10.0)
	he, _ := scene.Entity("a")
	require.Equal(t, pos, he.Position)

	for i := 0; i < 100; i++ {
		b.Frame(100 * time.Millisecond)
	}
	pos, _ = b.RenderedPosition("a")
	require.Equal(t, mgl64.Vec3{10, 0, 1}, pos)
}

func TestBridge_SnapsLargeJumps(t *testing.T) {
	s := newStores(t)
	b := s.bridge(NewHeadlessScene(), Options{InterpRate: 8, SnapDistance: 5})
	b.Frame(0)

	s.reg.Patch(entity.PositionPatch("a", 100, 0))
	st := b.Frame(16 * time.Millisecond)
	require.Zero(t, st.EntitiesMoving)
	pos, _ := b.RenderedPosition("a")
	require.Equal(t, mgl64.Vec3{100, 0, 1}, pos)
}

func TestBridge_ClickOnlyForDrawnEntities(t *testing.T) {
	s := newStores(t)
	b := s.bridge(NewHeadlessScene(), Options{})

	var clicked []string
	b.OnEntityClick(func(id string) { clicked = append(clicked, id) })

	require.False(t, b.ClickEntity("a"), "nothing drawn yet")
	b.Frame(0)
	require.True(t, b.ClickEntity("a"))
	require.False(t, b.ClickEntity("ghost"))
	require.Equal(t, []string{"a"}, clicked)
}

func TestBridge_Camera(t *testing.T) {
	b := newStores(t).bridge(NewHeadlessScene(), Options{})
	require.Equal(t, mgl64.Vec3{}, b.CameraPosition())
	b.SetCamera(mgl64.Vec3{1, 2, 3})
	require.Equal(t, mgl64.Vec3{1, 2, 3}, b.CameraPosition())
}

type submitRecorder struct {
	got []build.Gesture
}

func (r *submitRecorder) Submit(ctx context.Context, g build.Gesture) (*build.Proposal, error) {
	r.got = append(r.got, g)
	return &build.Proposal{ID: "p", Gesture: g}, nil
}

func TestBridge_StrokeUsesActiveTool(t *testing.T) {
	s := newStores(t)
	tool := build.NewSession()
	sub := &submitRecorder{}
	b := s.bridge(NewHeadlessScene(), Options{Tool: tool, Submitter: sub, AgentID: "human-1"})

	_, err := b.Stroke(context.Background(), voxel.Coord{X: 3, Y: 0, Z: 0})
	require.ErrorIs(t, err, ErrNoTool)

	tool.Open(build.ModePlace)
	tool.SetColor("#abcdef")
	p, err := b.Stroke(context.Background(), voxel.Coord{X: 3, Y: 0, Z: 0})
	require.NoError(t, err)
	require.Equal(t, build.KindPlace, p.Gesture.Kind)
	require.Len(t, sub.got, 1)
	require.Equal(t, "#abcdef", sub.got[0].Color)
	require.Equal(t, "human-1", sub.got[0].AgentID)
	require.Equal(t, voxel.Coord{X: 3, Y: 0, Z: 0}, sub.got[0].Coord)
}
