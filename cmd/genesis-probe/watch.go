package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/render"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/session"
)

func newWatchCmd(p *probe) *cobra.Command {
	var (
		fps            int
		statusInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror the world into a headless scene and log its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := p.openSession(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					p.log.Warn("close session", zap.Error(err))
				}
			}()

			scene := render.NewHeadlessScene()
			bridge := newBridge(p, s, scene)
			bridge.OnEntityClick(func(id string) { p.log.Info("entity clicked", zap.String("id", id)) })

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go frameLoop(runCtx, bridge, fps)
			go statusLoop(runCtx, p, s, scene, statusInterval)
			return s.Run(runCtx)
		},
	}
	cmd.Flags().IntVar(&fps, "fps", 30, "scene frames per second")
	cmd.Flags().DurationVar(&statusInterval, "status-interval", 5*time.Second, "status log period")
	return cmd
}

func newBridge(p *probe, s *session.Session, scene render.Scene) *render.Bridge {
	return render.NewBridge(s.Voxels, s.Entities, s.Speech, scene, render.Options{
		InterpRate:   p.cfg.Render.InterpRate,
		SnapDistance: p.cfg.Render.SnapDistance,
		AgentID:      p.agentID,
		Tool:         s.Build,
		Submitter:    s.Pipeline,
		Logger:       p.log,
	})
}

func frameLoop(ctx context.Context, b *render.Bridge, fps int) {
	if fps <= 0 {
		fps = 30
	}
	t := time.NewTicker(time.Second / time.Duration(fps))
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			b.Frame(now.Sub(last))
			last = now
		}
	}
}

func statusLoop(ctx context.Context, p *probe, s *session.Session, scene *render.HeadlessScene, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := s.Status()
			voxels, entities, bubbles, ops := scene.Counts()
			props := p.counters.Snapshot()
			p.log.Info("status",
				zap.Uint64("tick", st.Tick),
				zap.Stringer("socket", st.Socket),
				zap.Bool("polling", st.Polling),
				zap.Int("voxels", st.Voxels),
				zap.Int("entities", st.Entities),
				zap.Int("feed", st.Feed),
				zap.Int("pending_proposals", st.Pending),
				zap.Uint64("pushes", st.Dispatched),
				zap.Uint64("refreshes", st.Refreshes),
				zap.Uint64("refresh_errors", st.RefreshErrors),
				zap.Int("scene_voxels", voxels),
				zap.Int("scene_entities", entities),
				zap.Int("scene_bubbles", bubbles),
				zap.Int("scene_ops", ops),
				zap.Uint64("applied", props.Applied),
				zap.Uint64("reverted", props.Reverted),
				zap.Uint64("superseded", props.Superseded),
			)
		}
	}
}
