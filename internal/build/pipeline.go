package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

const DefaultTimeout = 10 * time.Second

var ErrClosed = errors.New("pipeline closed")

// Authority is the mutating half of the authority client.
type Authority interface {
	Place(ctx context.Context, req protocol.PlaceRequest) error
	Destroy(ctx context.Context, req protocol.DestroyRequest) error
	HasCredential() bool
}

type Options struct {
	Timeout  time.Duration
	Observer Observer
	Logger   *zap.Logger
	// Resync is asked to refetch a coordinate whose authority state is no
	// longer known locally.
	Resync func(c voxel.Coord)
	Now    func() time.Time
}

// Proposal is one in-flight gesture. It resolves exactly once.
type Proposal struct {
	ID        string
	Gesture   Gesture
	Submitted time.Time

	cmd    *voxelCommand
	cancel context.CancelFunc

	superseded atomic.Bool
	done       chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func (p *Proposal) Done() <-chan struct{} { return p.done }

func (p *Proposal) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proposal) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the proposal resolves or ctx ends.
func (p *Proposal) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.done:
		return p.State(), p.Err()
	case <-ctx.Done():
		return StatePending, ctx.Err()
	}
}

func (p *Proposal) resolve(st State, err error) {
	p.mu.Lock()
	p.state = st
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// slot tracks the outstanding chain of proposals at one coordinate. base is
// the cell before the first of them was applied.
type slot struct {
	base    voxel.Voxel
	baseHad bool
	head    *Proposal
	depth   int
}

type Pipeline struct {
	field    Field
	auth     Authority
	observer Observer
	resync   func(voxel.Coord)
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	slots  map[voxel.Coord]*slot
	closed bool

	// applied edits newer than the oldest outstanding Mark
	seq       uint64
	marks     map[uint64]int
	confirmed map[voxel.Coord]confirmedEdit
}

type confirmedEdit struct {
	seq uint64
	cmd *voxelCommand
}

func NewPipeline(field Field, auth Authority, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	root, stop := context.WithCancel(context.Background())
	return &Pipeline{
		field:     field,
		auth:      auth,
		observer:  opts.Observer,
		resync:    opts.Resync,
		timeout:   opts.Timeout,
		now:       opts.Now,
		log:       log.Named("build"),
		root:      root,
		stop:      stop,
		slots:     map[voxel.Coord]*slot{},
		marks:     map[uint64]int{},
		confirmed: map[voxel.Coord]confirmedEdit{},
	}
}

// Submit applies the gesture locally and sends it to the authority. It does
// not wait for the answer; in-flight requests belong to the pipeline and are
// not cancelled with ctx.
func (pl *Pipeline) Submit(ctx context.Context, g Gesture) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	if !pl.auth.HasCredential() {
		pl.log.Warn("gesture dropped: no credential",
			zap.String("kind", string(g.Kind)),
			zap.Stringer("coord", g.Coord),
		)
		return nil, fmt.Errorf("%s %s: %w", g.Kind, g.Coord, authority.ErrAuthMissing)
	}

	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return nil, ErrClosed
	}
	reqCtx, cancel := context.WithTimeout(pl.root, pl.timeout)
	p := &Proposal{
		ID:        ulid.Make().String(),
		Gesture:   g,
		Submitted: pl.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s := pl.slots[g.Coord]
	if s == nil {
		prev, had := pl.field.Get(g.Coord)
		s = &slot{base: prev, baseHad: had}
		pl.slots[g.Coord] = s
	} else if older := s.head; older != nil {
		older.superseded.Store(true)
		older.cancel()
		pl.log.Debug("proposal superseded",
			zap.String("id", older.ID),
			zap.String("by", p.ID),
			zap.Stringer("coord", g.Coord),
		)
	}
	p.cmd = newVoxelCommand(pl.field, g, s.base, s.baseHad)
	p.cmd.Apply()
	s.head = p
	s.depth++
	pl.wg.Add(1)
	pl.mu.Unlock()

	go pl.run(reqCtx, p)
	return p, nil
}

func (pl *Pipeline) run(ctx context.Context, p *Proposal) {
	defer pl.wg.Done()
	defer p.cancel()

	err := pl.execute(ctx, p)
	pl.finish(p, err)
}

// paintError marks a paint whose destroy step went through.
type paintError struct {
	err error
}

func (e *paintError) Error() string { return "paint place after destroy: " + e.err.Error() }
func (e *paintError) Unwrap() error { return e.err }

func (pl *Pipeline) execute(ctx context.Context, p *Proposal) error {
	g := p.Gesture
	switch g.Kind {
	case KindPlace:
		return pl.auth.Place(ctx, placeRequest(g.AgentID, g.target()))
	case KindDestroy:
		return pl.auth.Destroy(ctx, destroyRequest(g.AgentID, g.Coord))
	case KindPaint:
		// Paint over an empty cell is a plain place.
		if !p.cmd.prevHad {
			return pl.auth.Place(ctx, placeRequest(g.AgentID, g.target()))
		}
		if err := pl.auth.Destroy(ctx, destroyRequest(g.AgentID, g.Coord)); err != nil {
			return err
		}
		if err := pl.auth.Place(ctx, placeRequest(g.AgentID, g.target())); err != nil {
			return &paintError{err: err}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidGesture, g.Kind)
}

func (pl *Pipeline) finish(p *Proposal, err error) {
	g := p.Gesture

	pl.mu.Lock()
	s := pl.slots[g.Coord]
	if p.superseded.Load() || s == nil || s.head != p {
		pl.mu.Unlock()
		pl.resolve(p, StateSuperseded, nil, false, false)
		return
	}
	delete(pl.slots, g.Coord)
	if err == nil {
		if len(pl.marks) > 0 {
			pl.seq++
			pl.confirmed[g.Coord] = confirmedEdit{seq: pl.seq, cmd: p.cmd}
		}
		pl.mu.Unlock()
		pl.resolve(p, StateApplied, nil, false, false)
		return
	}
	// Restore while holding the lock so a concurrent Submit reads the
	// restored cell as its base.
	p.cmd.Compensate()
	chained := s.depth > 1
	pl.mu.Unlock()

	resynced := false
	var pe *paintError
	if errors.As(err, &pe) {
		resynced = pl.undoPaint(p)
	}
	if chained && !resynced {
		// An earlier superseded request may still have landed.
		resynced = pl.requestResync(g.Coord)
	}
	pl.resolve(p, StateReverted, err, true, resynced)
}

// undoPaint puts the original voxel back on the authority after a paint's
// destroy went through and its place did not. It reports whether a resync
// had to be requested instead.
func (pl *Pipeline) undoPaint(p *Proposal) bool {
	orig := p.cmd.prev
	ctx, cancel := context.WithTimeout(pl.root, pl.timeout)
	defer cancel()
	err := pl.auth.Place(ctx, placeRequest(p.Gesture.AgentID, orig))
	if err == nil {
		pl.log.Info("paint rolled back on authority", zap.String("id", p.ID), zap.Stringer("coord", orig.Coord))
		return false
	}
	pl.log.Warn("paint rollback failed; requesting resync",
		zap.String("id", p.ID),
		zap.Stringer("coord", orig.Coord),
		zap.Error(err),
	)
	return pl.requestResync(orig.Coord)
}

func (pl *Pipeline) requestResync(c voxel.Coord) bool {
	if pl.resync == nil {
		return false
	}
	pl.resync(c)
	return true
}

func (pl *Pipeline) resolve(p *Proposal, st State, err error, compensated, resynced bool) {
	o := newOutcome(p, st, err, pl.now())
	o.Compensated = compensated
	o.Resynced = resynced
	p.resolve(st, err)

	if st == StateReverted {
		pl.log.Warn("proposal reverted",
			zap.String("id", p.ID),
			zap.String("kind", string(o.Kind)),
			zap.Stringer("coord", o.Coord),
			zap.String("failure", string(o.Failure)),
			zap.String("code", o.Code),
			zap.Error(err),
		)
	} else {
		pl.log.Debug("proposal resolved",
			zap.String("id", p.ID),
			zap.Stringer("state", st),
			zap.Duration("took", o.Took),
		)
	}
	if pl.observer != nil {
		pl.observer.ProposalResolved(o)
	}
}

// Mark is taken before fetching authority voxels that will later be handed
// to Reload. Every Mark must be released.
func (pl *Pipeline) Mark() uint64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.marks[pl.seq]++
	return pl.seq
}

func (pl *Pipeline) Release(mark uint64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.marks[mark]--; pl.marks[mark] <= 0 {
		delete(pl.marks, mark)
	}
	if len(pl.marks) == 0 {
		clear(pl.confirmed)
		return
	}
	oldest := pl.seq
	for m := range pl.marks {
		oldest = min(oldest, m)
	}
	for c, e := range pl.confirmed {
		if e.seq <= oldest {
			delete(pl.confirmed, c)
		}
	}
}

// Reload runs load, which overwrites field cells with authority data fetched
// after mark, then puts back every unresolved proposal and every edit the
// authority accepted since mark. Submit and resolution wait for it.
func (pl *Pipeline) Reload(mark uint64, load func()) int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	load()
	n := 0
	for c, e := range pl.confirmed {
		if _, pending := pl.slots[c]; e.seq > mark && !pending {
			e.cmd.Apply()
			n++
		}
	}
	for _, s := range pl.slots {
		if s.head != nil {
			s.head.cmd.Apply()
			n++
		}
	}
	return n
}

// Pending reports how many coordinates have an unresolved proposal.
func (pl *Pipeline) Pending() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.slots)
}

// Close stops accepting gestures, cancels in-flight requests and waits for
// them to resolve. Cancelled proposals are compensated as network failures.
func (pl *Pipeline) Close() {
	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return
	}
	pl.closed = true
	pl.mu.Unlock()
	pl.stop()
	pl.wg.Wait()
}
