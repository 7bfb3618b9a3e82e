// Command genesis-probe is a headless client of the world authority: it
// mirrors the world, submits building gestures and reports what happened.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/config"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/persistence/auditdb"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/persistence/journal"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/session"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/telemetry"
)

// probe carries what every subcommand shares.
type probe struct {
	configPath string
	debug      bool
	agentID    string

	cfg      config.Config
	log      *zap.Logger
	counters *telemetry.Counters
	journal  *journal.ProposalJournal
	audit    *auditdb.Index
}

func main() {
	p := &probe{}
	root := newRootCmd(p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if terr := p.teardown(); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "genesis-probe:", err)
		os.Exit(1)
	}
}

func newRootCmd(p *probe) *cobra.Command {
	root := &cobra.Command{
		Use:           "genesis-probe",
		Short:         "Headless world mirror and building client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return p.setup()
		},
	}
	root.PersistentFlags().StringVar(&p.configPath, "config", "", "path to genesis.yaml, e.g. configs/genesis.yaml (empty for defaults)")
	root.PersistentFlags().BoolVar(&p.debug, "debug", false, "debug logging")
	root.PersistentFlags().StringVar(&p.agentID, "agent", "", "agent id sent with proposals and chat")

	root.AddCommand(
		newWatchCmd(p),
		newBuildCmd(p, build.KindPlace),
		newBuildCmd(p, build.KindDestroy),
		newBuildCmd(p, build.KindPaint),
		newSayCmd(p),
		newHistoryCmd(p),
	)
	return root
}

func (p *probe) setup() error {
	log, err := telemetry.NewLogger(p.debug)
	if err != nil {
		return err
	}
	p.log = log
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	p.cfg = cfg
	p.counters = telemetry.NewCounters()

	if dir := cfg.Telemetry.JournalDir; dir != "" {
		p.journal = journal.NewProposalJournal(journal.Options{
			Dir:    dir,
			Rotate: cfg.Telemetry.JournalRotate,
			Logger: log,
		})
	}
	if path := cfg.Telemetry.AuditDB; path != "" {
		idx, err := auditdb.Open(path, log)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		p.audit = idx
	}
	return nil
}

func (p *probe) teardown() error {
	var firstErr error
	if p.audit != nil {
		if err := p.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.journal != nil {
		if err := p.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.log != nil {
		_ = p.log.Sync()
	}
	return firstErr
}

func (p *probe) observer() build.Observer {
	obs := telemetry.Fanout{telemetry.NewLogObserver(p.log), p.counters}
	if p.journal != nil {
		obs = append(obs, p.journal)
	}
	if p.audit != nil {
		obs = append(obs, p.audit)
	}
	return obs
}

func (p *probe) openSession(ctx context.Context) (*session.Session, error) {
	s, err := session.FromConfig(p.cfg, p.agentID, p.observer(), p.log)
	if err != nil {
		return nil, err
	}
	if err := s.Bootstrap(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
