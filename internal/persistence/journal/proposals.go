package journal

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/build"
)

const proposalPrefix = "proposals"

var ErrClosed = errors.New("journal closed")

// ProposalRecord is one journal line.
type ProposalRecord struct {
	TS          string `json:"ts"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Z           int    `json:"z"`
	AgentID     string `json:"agent_id,omitempty"`
	State       string `json:"state"`
	Failure     string `json:"failure,omitempty"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Compensated bool   `json:"compensated,omitempty"`
	Resynced    bool   `json:"resynced,omitempty"`
	TookMS      int64  `json:"took_ms"`
	Error       string `json:"error,omitempty"`
}

func RecordFromOutcome(o build.Outcome, at time.Time) ProposalRecord {
	r := ProposalRecord{
		TS:          at.UTC().Format(time.RFC3339Nano),
		ID:          o.ProposalID,
		Kind:        string(o.Kind),
		X:           o.Coord.X,
		Y:           o.Coord.Y,
		Z:           o.Coord.Z,
		AgentID:     o.AgentID,
		State:       o.State.String(),
		Failure:     string(o.Failure),
		Code:        o.Code,
		Reason:      o.Reason,
		Compensated: o.Compensated,
		Resynced:    o.Resynced,
		TookMS:      o.Took.Milliseconds(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

const DefaultRotate = time.Hour

type Options struct {
	Dir string
	// Rotate is the period covered by one file. Periods are aligned to UTC.
	Rotate time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// ProposalJournal is a build.Observer that writes every outcome to disk.
// Write errors are logged and counted, never returned to the pipeline.
type ProposalJournal struct {
	dir    string
	rotate time.Duration
	now    func() time.Time
	log    *zap.Logger
	errors atomic.Uint64

	mu     sync.Mutex
	seg    *segment
	closed bool
}

func NewProposalJournal(opts Options) *ProposalJournal {
	if opts.Rotate <= 0 {
		opts.Rotate = DefaultRotate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ProposalJournal{
		dir:    opts.Dir,
		rotate: opts.Rotate,
		now:    opts.Now,
		log:    log.Named("journal"),
	}
}

func (j *ProposalJournal) ProposalResolved(o build.Outcome) {
	if err := j.append(o); err != nil {
		j.errors.Add(1)
		j.log.Warn("journal write failed", zap.String("id", o.ProposalID), zap.Error(err))
	}
}

func (j *ProposalJournal) append(o build.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	at := j.now()
	start := at.UTC().Truncate(j.rotate)
	if j.seg != nil && !j.seg.start.Equal(start) {
		old := j.seg
		j.seg = nil
		j.log.Debug("journal rotated", zap.Time("from", old.start), zap.Int("lines", old.lines))
		if err := old.close(); err != nil {
			return err
		}
	}
	if j.seg == nil {
		seg, err := openSegment(j.dir, proposalPrefix, start)
		if err != nil {
			return err
		}
		j.seg = seg
	}
	return j.seg.append(RecordFromOutcome(o, at))
}

func (j *ProposalJournal) WriteErrors() uint64 { return j.errors.Load() }

func (j *ProposalJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	if j.seg == nil {
		return nil
	}
	seg := j.seg
	j.seg = nil
	return seg.close()
}

// ReadProposals loads every record under dir, oldest file first.
func ReadProposals(dir string) ([]ProposalRecord, error) {
	files, err := Files(dir, proposalPrefix)
	if err != nil {
		return nil, err
	}
	var out []ProposalRecord
	for _, f := range files {
		err := ReadLines(f, func(line []byte) error {
			var r ProposalRecord
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

