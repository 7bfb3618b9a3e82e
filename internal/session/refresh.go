package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

// RefreshKind is a bit set of mirrors to refetch.
type RefreshKind uint32

const (
	RefreshWorld RefreshKind = 1 << iota
	RefreshEntities
	RefreshVoxels
	RefreshStructures
	// RefreshCells refetches only the coordinates queued by the pipeline.
	RefreshCells

	RefreshResync = RefreshWorld | RefreshEntities | RefreshVoxels
	RefreshPoll   = RefreshResync
	RefreshAll    = RefreshResync | RefreshStructures
)

func (k RefreshKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		bit  RefreshKind
		name string
	}{
		{RefreshWorld, "world"},
		{RefreshEntities, "entities"},
		{RefreshVoxels, "voxels"},
		{RefreshStructures, "structures"},
		{RefreshCells, "cells"},
	} {
		if k&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// Refresh asks the refresher to refetch kinds. Requests made before the
// refresher gets to them are merged into one fetch.
func (s *Session) Refresh(kinds RefreshKind) {
	if kinds == 0 {
		return
	}
	s.pending.Or(uint32(kinds))
	s.kick()
}

func (s *Session) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) refresher(ctx context.Context) {
	lim := limiterFor(s.opts.RefreshMinInterval)
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if !s.polling.Load() {
				continue
			}
			s.pending.Or(uint32(RefreshPoll))
		case <-s.wake:
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}
		kinds := RefreshKind(s.pending.Swap(0))
		if kinds == 0 {
			continue
		}
		if err := s.refresh(ctx, kinds, false); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("refresh failed", zap.Stringer("kinds", kinds), zap.Error(err))
			// Retry on the next wake-up; the limiter keeps it spaced.
			s.pending.Or(uint32(kinds))
			s.kick()
		}
	}
}

// refresh fetches kinds in parallel and applies each result to its store.
// bulk replaces the voxel field wholesale instead of only the query box.
func (s *Session) refresh(ctx context.Context, kinds RefreshKind, bulk bool) error {
	s.refreshes.Add(1)
	var cells []voxel.Coord
	if kinds&RefreshCells != 0 {
		cells = s.takeCells()
	}

	g, gctx := errgroup.WithContext(ctx)
	if kinds&RefreshWorld != 0 {
		g.Go(func() error {
			dto, err := s.auth.WorldState(gctx)
			if err != nil {
				return err
			}
			s.Clock.Apply(authority.SnapshotFromDTO(dto))
			return nil
		})
	}
	if kinds&RefreshEntities != 0 {
		g.Go(func() error {
			list, err := s.auth.Entities(gctx, s.opts.EntityQuery)
			if err != nil {
				return err
			}
			s.Entities.LoadBulk(authority.EntitiesFromDTO(list))
			return nil
		})
	}
	if kinds&RefreshVoxels != 0 {
		g.Go(func() error {
			b := s.opts.Bounds
			mark := s.Pipeline.Mark()
			defer s.Pipeline.Release(mark)
			list, err := s.auth.Voxels(gctx, b)
			if err != nil {
				return err
			}
			vs := authority.VoxelsFromDTO(list, s.log)
			s.Pipeline.Reload(mark, func() {
				if bulk {
					s.Voxels.LoadBulk(vs)
				} else {
					s.Voxels.ReplaceBox(b.Min, b.Max, vs)
				}
			})
			return nil
		})
	}
	if kinds&RefreshStructures != 0 {
		g.Go(func() error {
			list, err := s.auth.Structures(gctx)
			if err != nil {
				// Structures only annotate the world; retry them on their own.
				s.log.Warn("structures fetch failed", zap.Error(err))
				s.Refresh(RefreshStructures)
				return nil
			}
			s.Clock.LoadStructures(authority.StructuresFromDTO(list))
			return nil
		})
	}
	if len(cells) > 0 {
		g.Go(func() error {
			if err := s.refetchCells(gctx, cells); err != nil {
				s.requeueCells(cells)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		s.refreshErrors.Add(1)
		return err
	}
	s.log.Debug("refreshed", zap.Stringer("kinds", kinds))
	return nil
}

func (s *Session) refetchCells(ctx context.Context, cells []voxel.Coord) error {
	lo, hi := cells[0], cells[0]
	for _, c := range cells[1:] {
		lo.X, hi.X = min(lo.X, c.X), max(hi.X, c.X)
		lo.Y, hi.Y = min(lo.Y, c.Y), max(hi.Y, c.Y)
		lo.Z, hi.Z = min(lo.Z, c.Z), max(hi.Z, c.Z)
	}
	mark := s.Pipeline.Mark()
	defer s.Pipeline.Release(mark)
	list, err := s.auth.Voxels(ctx, authority.Bounds{Min: lo, Max: hi})
	if err != nil {
		return err
	}
	vs := authority.VoxelsFromDTO(list, s.log)
	s.Pipeline.Reload(mark, func() { s.Voxels.ReplaceBox(lo, hi, vs) })
	s.log.Info("cells resynced", zap.Int("cells", len(cells)), zap.Stringer("min", lo), zap.Stringer("max", hi))
	return nil
}

func (s *Session) takeCells() []voxel.Coord {
	s.cellMu.Lock()
	defer s.cellMu.Unlock()
	out := make([]voxel.Coord, 0, len(s.cells))
	for c := range s.cells {
		out = append(out, c)
	}
	clear(s.cells)
	return out
}

func (s *Session) requeueCells(cells []voxel.Coord) {
	s.cellMu.Lock()
	for _, c := range cells {
		s.cells[c] = struct{}{}
	}
	s.cellMu.Unlock()
}
