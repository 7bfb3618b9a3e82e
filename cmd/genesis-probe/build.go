package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/render"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

var errReverted = errors.New("proposal reverted")

func newBuildCmd(p *probe, kind build.Kind) *cobra.Command {
	var (
		color    string
		material string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   string(kind) + " X Y Z",
		Short: fmt.Sprintf("Submit a %s gesture and wait for the authority", kind),
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCoord(args)
			if err != nil {
				return err
			}
			mode, err := build.ParseMode(string(kind))
			if err != nil {
				return err
			}

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

			s.Build.Open(mode)
			s.Build.SetColor(color)
			if err := s.Build.SetMaterial(voxel.Material(material)); err != nil {
				return err
			}
			bridge := newBridge(p, s, render.NewHeadlessScene())
			bridge.Frame(0)

			prop, err := bridge.Stroke(ctx, c)
			if err != nil {
				return err
			}
			p.log.Info("proposal submitted", zap.String("id", prop.ID), zap.String("kind", string(kind)), zap.Stringer("coord", c))

			waitCtx := ctx
			if wait > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
			}
			st, err := prop.Wait(waitCtx)
			if err != nil {
				return err
			}
			bridge.Frame(0)

			v, ok := s.Voxels.Get(c)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s", prop.ID, kind, c, st)
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), " (now %s %s)", v.Material, v.Color)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if st == build.StateReverted {
				return fmt.Errorf("%w: %v", errReverted, prop.Err())
			}
			return nil
		},
	}
	if kind != build.KindDestroy {
		cmd.Flags().StringVar(&color, "color", build.DefaultColor, "voxel color")
		cmd.Flags().StringVar(&material, "material", string(voxel.MaterialSolid), "voxel material (solid, emissive, glass, liquid)")
	} else {
		material = string(voxel.MaterialSolid)
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "give up waiting after this long (0 waits for the proposal timeout)")
	return cmd
}

func parseCoord(args []string) (voxel.Coord, error) {
	var xyz [3]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return voxel.Coord{}, fmt.Errorf("coordinate %q: %w", a, err)
		}
		xyz[i] = n
	}
	return voxel.Coord{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
