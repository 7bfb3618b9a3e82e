// Package session composes the mirrored stores, the proposal pipeline and
// the authority transports into one explicitly owned world session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/persistence/mirrorcache"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/transport/socket"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/clock"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/entity"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/feed"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/speech"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

var ErrEmptyChat = errors.New("chat text is empty")

// Authority is the REST surface a session reads and writes through.
type Authority interface {
	build.Authority
	WorldState(ctx context.Context) (protocol.WorldStateDTO, error)
	Voxels(ctx context.Context, b authority.Bounds) ([]protocol.VoxelDTO, error)
	Entities(ctx context.Context, q authority.EntityQuery) ([]protocol.EntityDTO, error)
	Structures(ctx context.Context) ([]protocol.StructureDTO, error)
}

type Options struct {
	Authority Authority
	// Socket is optional; without it the session polls from the start.
	Socket *socket.Channel

	Bounds      authority.Bounds
	EntityQuery authority.EntityQuery

	RefreshMinInterval time.Duration
	PollInterval       time.Duration
	ProposalTimeout    time.Duration
	CachePath          string
	AgentID            string

	Speech   speech.Options
	FeedMax  int
	Observer build.Observer
	Logger   *zap.Logger
}

// Session owns one mirror of the world. Sessions share nothing, so several
// can run side by side.
type Session struct {
	ID string

	Voxels   *voxel.Field
	Entities *entity.Registry
	Speech   *speech.Router
	Clock    *clock.Tracker
	Feed     *feed.Ring
	Build    *build.Session
	Pipeline *build.Pipeline

	auth Authority
	sock *socket.Channel
	opts Options
	log  *zap.Logger

	pending atomic.Uint32
	wake    chan struct{}
	polling atomic.Bool

	cellMu sync.Mutex
	cells  map[voxel.Coord]struct{}

	refreshes     atomic.Uint64
	refreshErrors atomic.Uint64
	stale         atomic.Uint64
	dispatched    atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Session, error) {
	if opts.Authority == nil {
		return nil, fmt.Errorf("session: authority is required")
	}
	if opts.RefreshMinInterval <= 0 {
		opts.RefreshMinInterval = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.FeedMax <= 0 {
		opts.FeedMax = feed.DefaultMaxItems
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	log := opts.Logger.Named("session").With(zap.String("session", id))
	s := &Session{
		ID:     id,
		Voxels: voxel.NewField(),
		Speech: speech.NewRouter(opts.Speech),
		Clock:  clock.NewTracker(),
		Feed:   feed.NewRing(opts.FeedMax),
		Build:  build.NewSession(),
		auth:   opts.Authority,
		sock:   opts.Socket,
		opts:   opts,
		log:    log,
		wake:   make(chan struct{}, 1),
		cells:  map[voxel.Coord]struct{}{},
	}
	s.Entities = entity.NewRegistry(s.onStaleEntities)
	s.Pipeline = build.NewPipeline(s.Voxels, opts.Authority, build.Options{
		Timeout:  opts.ProposalTimeout,
		Observer: opts.Observer,
		Logger:   opts.Logger,
		Resync:   s.resyncCell,
	})
	return s, nil
}

func (s *Session) onStaleEntities(missing []string) {
	s.stale.Add(1)
	s.log.Warn("patch for unknown entities",
		zap.Strings("ids", missing),
		zap.Error(authority.ErrStaleReference),
	)
	s.Refresh(RefreshEntities)
}

// resyncCell queues a refetch of one coordinate whose authority state is
// no longer known.
func (s *Session) resyncCell(c voxel.Coord) {
	s.cellMu.Lock()
	s.cells[c] = struct{}{}
	s.cellMu.Unlock()
	s.Refresh(RefreshCells)
}

// Bootstrap seeds every store from the authority. If the authority cannot
// be reached and a warm-start cache exists, the cache is used and a full
// refresh stays queued for Run.
func (s *Session) Bootstrap(ctx context.Context) error {
	start := time.Now()
	err := s.refresh(ctx, RefreshAll, true)
	if err == nil {
		s.log.Info("bootstrapped",
			zap.Uint64("tick", s.Clock.Tick()),
			zap.Int("voxels", s.Voxels.Len()),
			zap.Int("entities", s.Entities.Len()),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	}
	if s.opts.CachePath == "" {
		return fmt.Errorf("bootstrap: %w", err)
	}
	m, cerr := mirrorcache.Read(s.opts.CachePath)
	if cerr != nil {
		return fmt.Errorf("bootstrap: %w (warm-start cache: %v)", err, cerr)
	}
	s.seed(m)
	s.log.Warn("authority unreachable, warm-started from cache",
		zap.String("path", s.opts.CachePath),
		zap.Time("saved_at", m.SavedAt),
		zap.Error(err),
	)
	s.pending.Or(uint32(RefreshAll))
	return nil
}

func (s *Session) seed(m mirrorcache.Mirror) {
	s.Clock.Apply(m.World)
	s.Clock.LoadStructures(m.Structures)
	s.Voxels.LoadBulk(m.Voxels)
	s.Entities.LoadBulk(m.Entities)
}

// Run drives the socket, the dispatch loop and the refresher until ctx
// ends. Losing the socket for good switches the session to polling.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.refresher(ctx)
		return nil
	})
	if s.sock == nil {
		s.startPolling("no socket configured")
	} else {
		g.Go(func() error {
			s.dispatchLoop(ctx)
			return nil
		})
		g.Go(func() error {
			err := s.sock.Run(ctx)
			if errors.Is(err, socket.ErrReconnectExhausted) {
				s.startPolling(err.Error())
				return nil
			}
			return err
		})
	}
	if s.pending.Load() != 0 {
		s.kick()
	}
	return g.Wait()
}

func (s *Session) startPolling(reason string) {
	if s.polling.CompareAndSwap(false, true) {
		s.log.Warn("falling back to polling",
			zap.String("reason", reason),
			zap.Duration("interval", s.opts.PollInterval),
		)
		s.Refresh(RefreshPoll)
	}
}

// Polling reports whether the session gave up on push delivery.
func (s *Session) Polling() bool { return s.polling.Load() }

func (s *Session) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.sock.Messages():
			if !ok {
				return
			}
			s.Dispatch(m)
		}
	}
}

// Dispatch applies one channel message to the stores.
func (s *Session) Dispatch(m socket.Message) {
	switch m := m.(type) {
	case socket.StateChange:
		s.log.Info("socket state",
			zap.Stringer("from", m.From),
			zap.Stringer("to", m.To),
			zap.Int("attempt", m.Attempt),
			zap.Bool("reconnected", m.Reconnected),
		)
		if m.To == socket.Connected && m.Reconnected {
			s.Refresh(RefreshResync)
		}
	case socket.Push:
		s.dispatched.Add(1)
		s.applyPush(m.Event, m.Received)
	}
}

func (s *Session) applyPush(ev protocol.PushEvent, received time.Time) {
	switch ev := ev.(type) {
	case protocol.Thought:
		se := speech.Event{EntityID: ev.AIID, Text: ev.Text}
		if ev.Position != nil {
			se.Origin = mgl64.Vec3{ev.Position.X, ev.Position.Y, ev.Position.Z}
			se.HasOrigin = true
		}
		s.Speech.Push(se)
	case protocol.Interaction:
		text := ev.Text
		if text == "" {
			text = ev.Kind
		}
		if text == "" {
			return
		}
		s.Speech.Push(speech.Event{EntityID: ev.AIID, Text: text})
	case protocol.WorldUpdate:
		s.Clock.AdvanceTick(ev.Tick)
	case protocol.AIPosition:
		patches := make([]entity.Patch, 0, len(ev.Positions))
		for _, p := range ev.Positions {
			patches = append(patches, entity.PositionPatch(p.ID, p.X, p.Y))
		}
		s.Entities.Patch(patches...)
	case protocol.AIDeath:
		s.Entities.Patch(entity.DeathPatch(ev.AIID))
	case protocol.WorldEvent:
		kinds := RefreshWorld
		if ev.NeedsEntityRefresh() {
			kinds |= RefreshEntities
		}
		s.Refresh(kinds)
	case protocol.FeedEvent:
		s.Feed.Add(feed.Item{Kind: ev.Kind, Tick: ev.Tick, Summary: ev.Summary, ReceivedAt: received})
	default:
		s.log.Debug("unhandled push", zap.String("type", ev.EventName()))
	}
}

// SendChat sends a human chat line over the socket.
func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}
	if s.sock == nil {
		return socket.ErrNotConnected
	}
	return s.sock.Send(protocol.EventChatMessage, protocol.ChatSend{Text: text, Sender: s.opts.AgentID})
}

// Mirror captures the stores for the warm-start cache.
func (s *Session) Mirror() mirrorcache.Mirror {
	cells, _ := s.Voxels.Snapshot()
	vs := make([]voxel.Voxel, 0, len(cells))
	for _, v := range cells {
		vs = append(vs, v)
	}
	return mirrorcache.Mirror{
		World:      s.Clock.Snapshot(),
		Voxels:     vs,
		Entities:   s.Entities.All(),
		Structures: s.Clock.Structures(),
	}
}

// Close waits for in-flight proposals and saves the warm-start cache.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Pipeline.Close()
		s.Speech.Close()
		if s.opts.CachePath == "" {
			return
		}
		if err := mirrorcache.Write(s.opts.CachePath, s.Mirror()); err != nil {
			s.closeErr = fmt.Errorf("save warm-start cache: %w", err)
			return
		}
		s.log.Info("warm-start cache saved", zap.String("path", s.opts.CachePath))
	})
	return s.closeErr
}

type Status struct {
	ID            string
	Tick          uint64
	Voxels        int
	Entities      int
	Speech        int
	Feed          int
	Pending       int
	Socket        socket.State
	Polling       bool
	Dispatched    uint64
	Refreshes     uint64
	RefreshErrors uint64
	StaleRefs     uint64
}

func (s *Session) Status() Status {
	st := Status{
		ID:            s.ID,
		Tick:          s.Clock.Tick(),
		Voxels:        s.Voxels.Len(),
		Entities:      s.Entities.Len(),
		Speech:        len(s.Speech.Current()),
		Feed:          s.Feed.Len(),
		Pending:       s.Pipeline.Pending(),
		Polling:       s.polling.Load(),
		Dispatched:    s.dispatched.Load(),
		Refreshes:     s.refreshes.Load(),
		RefreshErrors: s.refreshErrors.Load(),
		StaleRefs:     s.stale.Load(),
	}
	if s.sock != nil {
		st.Socket = s.sock.State()
	}
	return st
}

// limiterFor allows one refresh per interval.
func limiterFor(every time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every), 1)
}
