// Package agreement decides which stage result a set of replicas applies.
package agreement

import (
	"context"
	"fmt"
)

// Event is the outcome of a round.
type Event string

const (
	Done         Event = "DONE"
	NoMajority   Event = "NO_MAJORITY"
	RoundTimeout Event = "ROUND_TIMEOUT"
)

// Round identifies one agreement attempt. Replicas that agree must use the
// same Round for the same stage run.
type Round struct {
	Period  uint64
	Stage   string
	Attempt int
}

func (r Round) String() string {
	return fmt.Sprintf("%d:%s:%d", r.Period, r.Stage, r.Attempt)
}

// Outcome carries the agreed payload when Event is Done.
type Outcome struct {
	Event   Event
	Payload []byte
}

// Checkpoint reaches agreement on a stage payload. Only Done outcomes carry
// a payload; errors mean the checkpoint itself failed.
type Checkpoint interface {
	Propose(ctx context.Context, round Round, payload []byte) (Outcome, error)
	// Relay settles a round decided by the leader replica alone: the leader
	// sends its payload and every replica receives it as the outcome.
	// Followers pass a nil payload. A relayed round is settled once per
	// period and stage: every attempt reads the first value the leader sent.
	Relay(ctx context.Context, round Round, payload []byte, leader bool) (Outcome, error)
}

// Local is the single-replica checkpoint: every proposal is agreed.
type Local struct{}

func (Local) Propose(ctx context.Context, round Round, payload []byte) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{Event: RoundTimeout}, nil
	}
	rounds.WithLabelValues(string(Done)).Inc()
	return Outcome{Event: Done, Payload: payload}, nil
}

func (l Local) Relay(ctx context.Context, round Round, payload []byte, _ bool) (Outcome, error) {
	return l.Propose(ctx, round, payload)
}

// Threshold is the number of matching proposals needed out of n replicas.
func Threshold(n int) int {
	return 2*n/3 + 1
}
