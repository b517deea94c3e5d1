package strategy

import (
	"fmt"

	"github.com/dshills/actorcheck-go/machine/trace"
)

// dfsLevel is one decision point on the exploration stack.
type dfsLevel struct {
	kind   trace.Kind
	values []uint64
	done   []bool
}

// current returns the index of the first unexplored alternative.
func (l *dfsLevel) current() int {
	for i, d := range l.done {
		if !d {
			return i
		}
	}
	return len(l.done)
}

func (l *dfsLevel) matches(kind trace.Kind, values []uint64) bool {
	if l.kind != kind || len(l.values) != len(values) {
		return false
	}
	for i := range values {
		if l.values[i] != values[i] {
			return false
		}
	}
	return true
}

// DFS systematically enumerates every sequence of choices by depth-first
// backtracking. Each iteration replays the stack prefix and then takes the
// first alternative at every new decision point. Between iterations the
// deepest level with unexplored alternatives advances and everything below
// it is discarded. Exploration is exhausted when the stack empties.
//
// DFS assumes the program under test is deterministic given its choices; a
// prefix that produces a different choice set fails with ErrNondeterministic.
type DFS struct {
	stack      []*dfsLevel
	depth      int
	iterations int
}

// NewDFS returns a depth-first strategy.
func NewDFS() *DFS {
	return &DFS{}
}

func (d *DFS) next(kind trace.Kind, values []uint64) (uint64, error) {
	if len(values) == 0 {
		return 0, ErrNoChoice
	}
	if d.depth < len(d.stack) {
		lvl := d.stack[d.depth]
		if !lvl.matches(kind, values) {
			return 0, fmt.Errorf("%w: decision %d was %s %v, now %s %v",
				ErrNondeterministic, d.depth, lvl.kind, lvl.values, kind, values)
		}
		d.depth++
		return lvl.values[lvl.current()], nil
	}
	vals := make([]uint64, len(values))
	copy(vals, values)
	d.stack = append(d.stack, &dfsLevel{kind: kind, values: vals, done: make([]bool, len(vals))})
	d.depth++
	return vals[0], nil
}

// NextActor picks the current alternative at this depth.
func (d *DFS) NextActor(enabled []uint64, _ uint64) (uint64, error) {
	return d.next(trace.SchedulingChoice, enabled)
}

// NextBool explores false before true.
func (d *DFS) NextBool(_ int) (bool, error) {
	v, err := d.next(trace.BooleanChoice, []uint64{0, 1})
	return v == 1, err
}

// NextInt explores 0 through max-1 in order.
func (d *DFS) NextInt(max int) (int, error) {
	if max < 1 {
		max = 1
	}
	values := make([]uint64, max)
	for i := range values {
		values[i] = uint64(i)
	}
	v, err := d.next(trace.IntegerChoice, values)
	return int(v), err
}

// PrepareForNextIteration backtracks to the deepest level with an
// unexplored alternative. It returns false once every path has been taken.
func (d *DFS) PrepareForNextIteration() bool {
	if d.depth < len(d.stack) {
		d.stack = d.stack[:d.depth]
	}
	for len(d.stack) > 0 {
		top := d.stack[len(d.stack)-1]
		if c := top.current(); c < len(top.done) {
			top.done[c] = true
		}
		if top.current() < len(top.done) {
			break
		}
		d.stack = d.stack[:len(d.stack)-1]
	}
	d.depth = 0
	d.iterations++
	return len(d.stack) > 0
}

// Reset discards the exploration stack.
func (d *DFS) Reset() {
	d.stack = nil
	d.depth = 0
	d.iterations = 0
}

// IsFair is false: DFS happily starves actors along a path.
func (d *DFS) IsFair() bool { return false }

// ScheduledSteps returns the decisions taken in the current iteration.
func (d *DFS) ScheduledSteps() int { return d.depth }

// Describe returns the strategy description.
func (d *DFS) Describe() string {
	return "DFS"
}
