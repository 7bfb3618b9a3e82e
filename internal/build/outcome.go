package build

import (
	"errors"
	"time"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/authority"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/world/voxel"
)

type State int

const (
	StatePending State = iota
	StateApplied
	StateReverted
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplied:
		return "applied"
	case StateReverted:
		return "reverted"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

type Failure string

const (
	FailureNone        Failure = ""
	FailureNetwork     Failure = "network"
	FailureRejected    Failure = "rejected"
	FailureAuthMissing Failure = "auth_missing"
)

// Classify maps an authority error onto the proposal failure taxonomy.
// Anything unrecognised counts as a network failure.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, authority.ErrAuthMissing):
		return FailureAuthMissing
	case errors.Is(err, authority.ErrRejected):
		return FailureRejected
	default:
		return FailureNetwork
	}
}

// Outcome describes one resolved proposal.
type Outcome struct {
	ProposalID  string
	Kind        Kind
	Coord       voxel.Coord
	AgentID     string
	State       State
	Failure     Failure
	Code        string
	Reason      string
	Compensated bool
	Resynced    bool
	Submitted   time.Time
	Took        time.Duration
	Err         error
}

type Observer interface {
	ProposalResolved(o Outcome)
}

type ObserverFunc func(o Outcome)

func (f ObserverFunc) ProposalResolved(o Outcome) { f(o) }

func newOutcome(p *Proposal, st State, err error, now time.Time) Outcome {
	o := Outcome{
		ProposalID: p.ID,
		Kind:       p.Gesture.Kind,
		Coord:      p.Gesture.Coord,
		AgentID:    p.Gesture.AgentID,
		State:      st,
		Submitted:  p.Submitted,
		Took:       now.Sub(p.Submitted),
		Err:        err,
	}
	if st == StateSuperseded {
		return o
	}
	o.Failure = Classify(err)
	var re *authority.RejectedError
	if errors.As(err, &re) {
		o.Code = re.Code
		o.Reason = re.Reason
	}
	return o
}
