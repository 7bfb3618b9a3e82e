package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/transport/socket"
)

func newSayCmd(p *probe) *cobra.Command {
	var connectTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Send a chat line over the world socket",
		Args:  cobra.MinimumNArgs(1),
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

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- s.Run(runCtx) }()
			defer func() {
				cancel()
				<-done
			}()

			deadline := time.After(connectTimeout)
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()
			for s.Status().Socket != socket.Connected {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-deadline:
					return socket.ErrNotConnected
				case <-tick.C:
				}
			}
			return s.SendChat(strings.Join(args, " "))
		},
	}
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "how long to wait for the socket")
	return cmd
}
