// Package telemetry holds the observability sinks for proposals: structured
// logs, counters and a fanout to the persistent sinks.
package telemetry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
)

// NewLogger builds the production JSON logger; debug lowers the level.
func NewLogger(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// LogObserver writes one log line per resolved proposal.
type LogObserver struct {
	log *zap.Logger
}

func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogObserver{log: log.Named("proposals")}
}

func (o *LogObserver) ProposalResolved(out build.Outcome) {
	fields := []zap.Field{
		zap.String("id", out.ProposalID),
		zap.String("kind", string(out.Kind)),
		zap.Int("x", out.Coord.X),
		zap.Int("y", out.Coord.Y),
		zap.Int("z", out.Coord.Z),
		zap.String("agent_id", out.AgentID),
		zap.Stringer("state", out.State),
		zap.Duration("took", out.Took),
	}
	if out.State != build.StateReverted {
		o.log.Info("proposal resolved", fields...)
		return
	}
	fields = append(fields,
		zap.String("failure", string(out.Failure)),
		zap.String("code", out.Code),
		zap.String("reason", out.Reason),
		zap.Bool("compensated", out.Compensated),
		zap.Bool("resynced", out.Resynced),
		zap.Error(out.Err),
	)
	o.log.Warn("proposal reverted", fields...)
}

// Fanout forwards every outcome to each observer in order.
type Fanout []build.Observer

func (f Fanout) ProposalResolved(out build.Outcome) {
	for _, o := range f {
		if o != nil {
			o.ProposalResolved(out)
		}
	}
}

type Snapshot struct {
	Applied    uint64
	Reverted   uint64
	Superseded uint64
	ByFailure  map[build.Failure]uint64
}

// Counters tallies outcomes for status reporting.
type Counters struct {
	mu sync.Mutex
	s  Snapshot
}

func NewCounters() *Counters {
	return &Counters{s: Snapshot{ByFailure: map[build.Failure]uint64{}}}
}

func (c *Counters) ProposalResolved(out build.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch out.State {
	case build.StateApplied:
		c.s.Applied++
	case build.StateReverted:
		c.s.Reverted++
		c.s.ByFailure[out.Failure]++
	case build.StateSuperseded:
		c.s.Superseded++
	}
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	out.ByFailure = make(map[build.Failure]uint64, len(c.s.ByFailure))
	for k, v := range c.s.ByFailure {
		out.ByFailure[k] = v
	}
	return out
}
