package strategy

import (
	"fmt"

	"github.com/dshills/actorcheck-go/machine/trace"
)

// Replay re-executes a recorded trace. Every decision must match the next
// recorded step exactly; any divergence fails with ErrReplayMismatch.
type Replay struct {
	trace *trace.Trace
	pos   int
	fair  bool
}

// NewReplay returns a strategy that replays t. fair mirrors the fairness of
// the strategy that recorded it so liveness checks behave identically.
func NewReplay(t *trace.Trace, fair bool) *Replay {
	if t == nil {
		t = trace.New()
	}
	return &Replay{trace: t, fair: fair}
}

func (r *Replay) step(kind trace.Kind) (*trace.Step, error) {
	s := r.trace.At(r.pos)
	if s == nil {
		return nil, fmt.Errorf("%w: Trace is not reproducible: execution is longer than trace (%d steps)",
			ErrReplayMismatch, r.trace.Len())
	}
	if s.Kind != kind {
		return nil, fmt.Errorf("%w: Trace is not reproducible: expected a %s at step %d, found %s",
			ErrReplayMismatch, kind, r.pos, s.Kind)
	}
	r.pos++
	return s, nil
}

// NextActor returns the recorded actor, which must be enabled.
func (r *Replay) NextActor(enabled []uint64, _ uint64) (uint64, error) {
	s, err := r.step(trace.SchedulingChoice)
	if err != nil {
		return 0, err
	}
	if !contains(enabled, s.Actor) {
		return 0, fmt.Errorf("%w: Trace is not reproducible: cannot detect actor %d among schedulable %v at step %d",
			ErrReplayMismatch, s.Actor, enabled, s.Index)
	}
	return s.Actor, nil
}

// NextBool returns the recorded boolean.
func (r *Replay) NextBool(_ int) (bool, error) {
	s, err := r.step(trace.BooleanChoice)
	if err != nil {
		return false, err
	}
	return s.Bool, nil
}

// NextFairBool returns the recorded fair boolean for site id.
func (r *Replay) NextFairBool(id string) (bool, error) {
	s, err := r.step(trace.FairChoice)
	if err != nil {
		return false, err
	}
	if s.FairID != id {
		return false, fmt.Errorf("%w: Trace is not reproducible: expected fair choice at %q, found %q",
			ErrReplayMismatch, s.FairID, id)
	}
	return s.Bool, nil
}

// NextInt returns the recorded integer, which must be below max.
func (r *Replay) NextInt(max int) (int, error) {
	s, err := r.step(trace.IntegerChoice)
	if err != nil {
		return 0, err
	}
	if max > 0 && s.Int >= max {
		return 0, fmt.Errorf("%w: Trace is not reproducible: recorded integer %d out of range [0, %d)",
			ErrReplayMismatch, s.Int, max)
	}
	return s.Int, nil
}

// Remaining returns the number of recorded steps not yet consumed.
func (r *Replay) Remaining() int {
	return r.trace.Len() - r.pos
}

// PrepareForNextIteration returns false: a trace is replayed once.
func (r *Replay) PrepareForNextIteration() bool {
	return false
}

// Reset rewinds to the first step.
func (r *Replay) Reset() {
	r.pos = 0
}

// IsFair reports the fairness of the recording strategy.
func (r *Replay) IsFair() bool { return r.fair }

// ScheduledSteps returns the decisions replayed so far.
func (r *Replay) ScheduledSteps() int { return r.pos }

// Describe returns the strategy description.
func (r *Replay) Describe() string {
	return fmt.Sprintf("Replay[%d steps]", r.trace.Len())
}
