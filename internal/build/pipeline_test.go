package build

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type fakeAuthority struct {
	mu        sync.Mutex
	noCred    bool
	calls     []string
	places    []protocol.PlaceRequest
	onPlace   func(ctx context.Context, n int, req protocol.PlaceRequest) error
	onDestroy func(ctx context.Context, n int, req protocol.DestroyRequest) error
}

func (f *fakeAuthority) HasCredential() bool { return !f.noCred }

func (f *fakeAuthority) Place(ctx context.Context, req protocol.PlaceRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, "place")
	f.places = append(f.places, req)
	n := len(f.places)
	fn := f.onPlace
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, n, req)
}

func (f *fakeAuthority) Destroy(ctx context.Context, req protocol.DestroyRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, "destroy")
	n := 0
	for _, c := range f.calls {
		if c == "destroy" {
			n++
		}
	}
	fn := f.onDestroy
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, n, req)
}

func (f *fakeAuthority) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAuthority) Places() []protocol.PlaceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.PlaceRequest(nil), f.places...)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %w", authority.ErrNetwork, ctx.Err())
}

func rejected(code string) error {
	return &authority.RejectedError{Status: 409, Code: code, Reason: "refused"}
}

type recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recorder) ProposalResolved(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *recorder) byID(id string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o.ProposalID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

type resyncLog struct {
	mu     sync.Mutex
	coords []voxel.Coord
}

func (r *resyncLog) add(c voxel.Coord) {
	r.mu.Lock()
	r.coords = append(r.coords, c)
	r.mu.Unlock()
}

func (r *resyncLog) list() []voxel.Coord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voxel.Coord(nil), r.coords...)
}

type harness struct {
	field  *voxel.Field
	auth   *fakeAuthority
	rec    *recorder
	resync *resyncLog
	pl     *Pipeline
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		field:  voxel.NewField(),
		auth:   &fakeAuthority{},
		rec:    &recorder{},
		resync: &resyncLog{},
	}
	h.pl = NewPipeline(h.field, h.auth, Options{
		Timeout:  timeout,
		Observer: h.rec,
		Resync:   h.resync.add,
	})
	t.Cleanup(h.pl.Close)
	return h
}

func wait(t *testing.T, p *Proposal) (State, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := p.Wait(ctx)
	require.NotEqual(t, StatePending, st, "proposal %s did not resolve", p.ID)
	return st, err
}

var at = voxel.Coord{X: 5, Y: 0, Z: 5}

func red() Gesture {
	return Gesture{Kind: KindPlace, Coord: at, Color: "#ff0000", Material: voxel.MaterialSolid, AgentID: "human-1"}
}

func TestPlace_Confirmed(t *testing.T) {
	h := newHarness(t, time.Second)

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	st, err := wait(t, p)
	require.Equal(t, StateApplied, st)
	require.NoError(t, err)

	got, ok := h.field.Get(at)
	require.True(t, ok)
	require.Equal(t, voxel.Voxel{Coord: at, Color: "#ff0000", Material: voxel.MaterialSolid, HasCollision: true}, got)
	require.Equal(t, 0, h.pl.Pending())
}

func TestPlace_RejectedRestoresEmpty(t *testing.T) {
	h := newHarness(t, time.Second)
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		return rejected(protocol.ErrOccupied)
	}

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	st, err := wait(t, p)
	require.Equal(t, StateReverted, st)
	require.ErrorIs(t, err, authority.ErrRejected)

	_, ok := h.field.Get(at)
	require.False(t, ok, "rejected place must leave the cell empty")

	o, ok := h.rec.byID(p.ID)
	require.True(t, ok)
	require.Equal(t, FailureRejected, o.Failure)
	require.Equal(t, protocol.ErrOccupied, o.Code)
	require.True(t, o.Compensated)
}

func TestPlace_OverExistingRestoresPrevious(t *testing.T) {
	h := newHarness(t, time.Second)
	orig := voxel.Voxel{Coord: at, Color: "#0000ff", Material: voxel.MaterialGlass, HasCollision: true}
	h.field.LoadBulk([]voxel.Voxel{orig})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		return fmt.Errorf("%w: connection reset", authority.ErrNetwork)
	}

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	st, _ := wait(t, p)
	require.Equal(t, StateReverted, st)

	got, ok := h.field.Get(at)
	require.True(t, ok)
	require.Equal(t, orig, got)
	o, _ := h.rec.byID(p.ID)
	require.Equal(t, FailureNetwork, o.Failure)
}

func TestDestroy_RoundTrips(t *testing.T) {
	orig := voxel.Voxel{Coord: at, Color: "#00ff00", Material: voxel.MaterialSolid, HasCollision: true}
	destroy := Gesture{Kind: KindDestroy, Coord: at, AgentID: "human-1"}

	t.Run("confirmed", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.field.LoadBulk([]voxel.Voxel{orig})
		p, err := h.pl.Submit(context.Background(), destroy)
		require.NoError(t, err)
		st, _ := wait(t, p)
		require.Equal(t, StateApplied, st)
		_, ok := h.field.Get(at)
		require.False(t, ok)
	})

	t.Run("failed", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.field.LoadBulk([]voxel.Voxel{orig})
		h.auth.onDestroy = func(ctx context.Context, n int, req protocol.DestroyRequest) error {
			return rejected(protocol.ErrNoPermission)
		}
		p, err := h.pl.Submit(context.Background(), destroy)
		require.NoError(t, err)
		st, _ := wait(t, p)
		require.Equal(t, StateReverted, st)
		got, ok := h.field.Get(at)
		require.True(t, ok)
		require.Equal(t, orig, got)
	})
}

func TestPaint_PlaceFailureRestoresPrePaintVoxel(t *testing.T) {
	h := newHarness(t, time.Second)
	orig := voxel.Voxel{Coord: at, Color: "#00ff00", Material: voxel.MaterialEmissive, HasCollision: true}
	h.field.LoadBulk([]voxel.Voxel{orig})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		if n == 1 {
			return rejected(protocol.ErrRateLimit)
		}
		return nil
	}

	g := red()
	g.Kind = KindPaint
	p, err := h.pl.Submit(context.Background(), g)
	require.NoError(t, err)

	st, err := wait(t, p)
	require.Equal(t, StateReverted, st)
	require.ErrorIs(t, err, authority.ErrRejected)

	got, ok := h.field.Get(at)
	require.True(t, ok, "paint failure must not leave the cell empty")
	require.Equal(t, orig, got)

	require.Equal(t, []string{"destroy", "place", "place"}, h.auth.Calls())
	undo := h.auth.Places()[1]
	require.Equal(t, "#00ff00", undo.Color)
	require.Equal(t, string(voxel.MaterialEmissive), undo.Material)
	require.Empty(t, h.resync.list())
}

func TestPaint_RollbackFailureRequestsResync(t *testing.T) {
	h := newHarness(t, time.Second)
	h.field.LoadBulk([]voxel.Voxel{{Coord: at, Color: "#00ff00", Material: voxel.MaterialSolid, HasCollision: true}})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		return fmt.Errorf("%w: down", authority.ErrNetwork)
	}

	g := red()
	g.Kind = KindPaint
	p, err := h.pl.Submit(context.Background(), g)
	require.NoError(t, err)
	st, _ := wait(t, p)
	require.Equal(t, StateReverted, st)
	require.Equal(t, []voxel.Coord{at}, h.resync.list())

	o, _ := h.rec.byID(p.ID)
	require.True(t, o.Resynced)
}

func TestPaint_DestroyFailureSkipsPlace(t *testing.T) {
	h := newHarness(t, time.Second)
	orig := voxel.Voxel{Coord: at, Color: "#00ff00", Material: voxel.MaterialSolid, HasCollision: true}
	h.field.LoadBulk([]voxel.Voxel{orig})
	h.auth.onDestroy = func(ctx context.Context, n int, req protocol.DestroyRequest) error {
		return rejected(protocol.ErrNoPermission)
	}

	g := red()
	g.Kind = KindPaint
	p, err := h.pl.Submit(context.Background(), g)
	require.NoError(t, err)
	st, _ := wait(t, p)
	require.Equal(t, StateReverted, st)
	require.Equal(t, []string{"destroy"}, h.auth.Calls())
	got, _ := h.field.Get(at)
	require.Equal(t, orig, got)
}

func TestSubmit_AuthMissingFailsBeforeApply(t *testing.T) {
	h := newHarness(t, time.Second)
	h.auth.noCred = true

	p, err := h.pl.Submit(context.Background(), red())
	require.ErrorIs(t, err, authority.ErrAuthMissing)
	require.Nil(t, p)
	_, ok := h.field.Get(at)
	require.False(t, ok)
	require.Empty(t, h.auth.Calls())
	require.Equal(t, uint64(0), h.field.Version())
}

func TestSubmit_InvalidGesture(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.pl.Submit(context.Background(), Gesture{Kind: KindPlace, Coord: at})
	require.ErrorIs(t, err, ErrInvalidGesture)
	_, err = h.pl.Submit(context.Background(), Gesture{Kind: "spin", Coord: at})
	require.ErrorIs(t, err, ErrInvalidGesture)
}

func TestSupersede_CancelsOlderRequest(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	firstCancelled := make(chan struct{})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		if req.Color == "#ff0000" {
			err := blockUntilDone(ctx)
			close(firstCancelled)
			return err
		}
		return nil
	}

	first, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)

	second := red()
	second.Color = "#123456"
	p2, err := h.pl.Submit(context.Background(), second)
	require.NoError(t, err)

	select {
	case <-firstCancelled:
	case <-time.After(3 * time.Second):
		t.Fatalf("superseded request was not cancelled")
	}

	st1, err1 := wait(t, first)
	require.Equal(t, StateSuperseded, st1)
	require.NoError(t, err1)
	st2, _ := wait(t, p2)
	require.Equal(t, StateApplied, st2)

	got, ok := h.field.Get(at)
	require.True(t, ok)
	require.Equal(t, "#123456", got.Color)

	o, _ := h.rec.byID(first.ID)
	require.False(t, o.Compensated, "superseded proposals never compensate")
}

func TestSupersede_NewestFailureRestoresChainBase(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		if req.Color == "#ff0000" {
			return blockUntilDone(ctx)
		}
		return rejected(protocol.ErrOutOfBounds)
	}

	first, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	second := red()
	second.Color = "#abcdef"
	p2, err := h.pl.Submit(context.Background(), second)
	require.NoError(t, err)

	wait(t, first)
	st, _ := wait(t, p2)
	require.Equal(t, StateReverted, st)

	_, ok := h.field.Get(at)
	require.False(t, ok, "cell should return to its state before the first gesture")
	require.Equal(t, []voxel.Coord{at}, h.resync.list())
}

func TestTimeout_TreatedAsNetworkFailure(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		return blockUntilDone(ctx)
	}

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	st, err := wait(t, p)
	require.Equal(t, StateReverted, st)
	require.ErrorIs(t, err, authority.ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := h.field.Get(at)
	require.False(t, ok)
}

func TestSubmit_CallerCancelDoesNotCancelInFlight(t *testing.T) {
	h := newHarness(t, time.Second)
	release := make(chan struct{})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return blockUntilDone(ctx)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p, err := h.pl.Submit(ctx, red())
	require.NoError(t, err)
	cancel()
	close(release)

	st, _ := wait(t, p)
	require.Equal(t, StateApplied, st)
}

func TestReload_KeepsInFlightProposal(t *testing.T) {
	h := newHarness(t, time.Second)
	release := make(chan struct{})
	h.auth.onPlace = func(ctx context.Context, n int, req protocol.PlaceRequest) error {
		<-release
		return nil
	}

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)

	mark := h.pl.Mark()
	n := h.pl.Reload(mark, func() { h.field.LoadBulk(nil) })
	h.pl.Release(mark)
	require.Equal(t, 1, n)
	_, ok := h.field.Get(at)
	require.True(t, ok, "reload must not drop a pending place")

	close(release)
	st, err := wait(t, p)
	require.Equal(t, StateApplied, st)
	require.NoError(t, err)
	_, ok = h.field.Get(at)
	require.True(t, ok)
}

func TestReload_KeepsEditConfirmedAfterMark(t *testing.T) {
	h := newHarness(t, time.Second)
	mark := h.pl.Mark()

	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	st, _ := wait(t, p)
	require.Equal(t, StateApplied, st)

	// Data fetched before the place landed.
	h.pl.Reload(mark, func() { h.field.LoadBulk(nil) })
	h.pl.Release(mark)
	_, ok := h.field.Get(at)
	require.True(t, ok, "stale load must not erase a confirmed place")

	// With no marks outstanding nothing is kept.
	mark = h.pl.Mark()
	h.pl.Reload(mark, func() { h.field.LoadBulk(nil) })
	h.pl.Release(mark)
	_, ok = h.field.Get(at)
	require.False(t, ok)
}

func TestReload_DoesNotReapplyEditsBeforeMark(t *testing.T) {
	h := newHarness(t, time.Second)
	p, err := h.pl.Submit(context.Background(), red())
	require.NoError(t, err)
	wait(t, p)

	mark := h.pl.Mark()
	n := h.pl.Reload(mark, func() { h.field.LoadBulk(nil) })
	h.pl.Release(mark)
	require.Zero(t, n)
	require.Zero(t, h.field.Len())
}

func TestClassify(t *testing.T) {
	require.Equal(t, FailureNone, Classify(nil))
	require.Equal(t, FailureAuthMissing, Classify(fmt.Errorf("x: %w", authority.ErrAuthMissing)))
	require.Equal(t, FailureRejected, Classify(rejected(protocol.ErrConflict)))
	require.Equal(t, FailureNetwork, Classify(context.DeadlineExceeded))
}
