// Package trace records the scheduling decisions and nondeterministic choices
// taken during one exploration iteration, so that the iteration can be
// reproduced exactly.
package trace

import "fmt"

// Kind identifies what a Step decided.
type Kind int

const (
	// SchedulingChoice selected the actor that runs the next step.
	SchedulingChoice Kind = iota

	// BooleanChoice resolved a nondeterministic boolean.
	BooleanChoice

	// IntegerChoice resolved a nondeterministic integer.
	IntegerChoice

	// FairChoice resolved a fair boolean at a named choice site.
	FairChoice
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case SchedulingChoice:
		return "scheduling"
	case BooleanChoice:
		return "boolean"
	case IntegerChoice:
		return "integer"
	case FairChoice:
		return "fair"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Step is one recorded decision.
//
// Steps form a doubly linked list in recording order and are also reachable
// by index through Trace.At. Only the fields relevant to Kind are set.
type Step struct {
	Index int
	Kind  Kind

	// Actor is the scheduled actor for SchedulingChoice.
	Actor uint64

	// Bool is the value of BooleanChoice and FairChoice.
	Bool bool

	// Int is the value of IntegerChoice.
	Int int

	// FairID names the choice site of a FairChoice.
	FairID string

	Prev *Step
	Next *Step
}

// String renders the step for logs and bug reports.
func (s *Step) String() string {
	switch s.Kind {
	case SchedulingChoice:
		return fmt.Sprintf("#%d schedule %d", s.Index, s.Actor)
	case BooleanChoice:
		return fmt.Sprintf("#%d bool %t", s.Index, s.Bool)
	case IntegerChoice:
		return fmt.Sprintf("#%d int %d", s.Index, s.Int)
	case FairChoice:
		return fmt.Sprintf("#%d fair %s=%t", s.Index, s.FairID, s.Bool)
	default:
		return fmt.Sprintf("#%d %s", s.Index, s.Kind)
	}
}

// Trace is an append-only log of Steps.
//
// A Trace is owned by a single iteration and is not safe for concurrent
// mutation. Completed traces are treated as read-only.
type Trace struct {
	steps []*Step
}

// New returns an empty trace.
func New() *Trace {
	return &Trace{steps: make([]*Step, 0, 64)}
}

// Len returns the number of recorded steps.
func (t *Trace) Len() int {
	return len(t.steps)
}

// At returns the step at index i, or nil when i is out of range.
func (t *Trace) At(i int) *Step {
	if i < 0 || i >= len(t.steps) {
		return nil
	}
	return t.steps[i]
}

// First returns the first step or nil.
func (t *Trace) First() *Step {
	return t.At(0)
}

// Last returns the most recent step or nil.
func (t *Trace) Last() *Step {
	return t.At(len(t.steps) - 1)
}

// Steps returns the recorded steps in order. The slice is a copy; the steps
// are shared.
func (t *Trace) Steps() []*Step {
	out := make([]*Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// AddSchedulingChoice records that actor was scheduled.
func (t *Trace) AddSchedulingChoice(actor uint64) *Step {
	return t.append(&Step{Kind: SchedulingChoice, Actor: actor})
}

// AddBooleanChoice records a nondeterministic boolean.
func (t *Trace) AddBooleanChoice(v bool) *Step {
	return t.append(&Step{Kind: BooleanChoice, Bool: v})
}

// AddIntegerChoice records a nondeterministic integer.
func (t *Trace) AddIntegerChoice(v int) *Step {
	return t.append(&Step{Kind: IntegerChoice, Int: v})
}

// AddFairChoice records a fair boolean taken at choice site id.
func (t *Trace) AddFairChoice(id string, v bool) *Step {
	return t.append(&Step{Kind: FairChoice, FairID: id, Bool: v})
}

func (t *Trace) append(s *Step) *Step {
	s.Index = len(t.steps)
	if last := t.Last(); last != nil {
		last.Next = s
		s.Prev = last
	}
	t.steps = append(t.steps, s)
	return s
}

// Equal reports whether two traces recorded the same decisions.
func (t *Trace) Equal(other *Trace) bool {
	if other == nil || t.Len() != other.Len() {
		return false
	}
	for i, s := range t.steps {
		o := other.steps[i]
		if s.Kind != o.Kind || s.Actor != o.Actor || s.Bool != o.Bool || s.Int != o.Int || s.FairID != o.FairID {
			return false
		}
	}
	return true
}
