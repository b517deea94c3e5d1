package strategy

import (
	"fmt"
	"math/rand"
	"sort"
)

// RoundRobin rotates through the schedulable actors and injects a bounded
// number of delays per iteration. At a delay point the rotation skips one
// extra actor and boolean choices resolve to true.
//
// Delay points are sampled from the length of the previous iteration. A
// delay that falls on a step with a single schedulable actor cannot change
// the schedule, so it moves forward to the next step that has an
// alternative.
type RoundRobin struct {
	seed      int64
	rng       *rand.Rand
	maxDelays int

	steps      int
	lastLength int
	delays     []int
	injected   []int
}

// NewRoundRobin returns a round-robin strategy with up to maxDelays delays
// per iteration.
func NewRoundRobin(seed int64, maxDelays int) *RoundRobin {
	return &RoundRobin{seed: seed, rng: newRNG(seed), maxDelays: maxDelays}
}

// NextActor returns the actor after current in rotation order, skipping one
// extra slot per delay scheduled at this step.
func (r *RoundRobin) NextActor(enabled []uint64, current uint64) (uint64, error) {
	if len(enabled) == 0 {
		return 0, ErrNoChoice
	}
	start := sort.Search(len(enabled), func(i int) bool { return enabled[i] > current })
	idx := start
	for len(r.delays) > 0 && r.delays[0] == r.steps {
		if len(enabled) == 1 {
			r.postpone()
			break
		}
		r.injected = append(r.injected, r.steps)
		r.delays = r.delays[1:]
		idx++
	}
	r.steps++
	return enabled[idx%len(enabled)], nil
}

// postpone moves every delay at the current step to the next step.
func (r *RoundRobin) postpone() {
	for i := range r.delays {
		if r.delays[i] == r.steps {
			r.delays[i]++
		}
	}
}

// NextBool is true exactly at a delay point.
func (r *RoundRobin) NextBool(_ int) (bool, error) {
	delayed := false
	for len(r.delays) > 0 && r.delays[0] == r.steps {
		r.injected = append(r.injected, r.steps)
		r.delays = r.delays[1:]
		delayed = true
	}
	r.steps++
	return delayed, nil
}

// NextInt is drawn from the seeded generator.
func (r *RoundRobin) NextInt(max int) (int, error) {
	r.steps++
	if max <= 1 {
		return 0, nil
	}
	return r.rng.Intn(max), nil
}

// PrepareForNextIteration samples fresh delay points.
func (r *RoundRobin) PrepareForNextIteration() bool {
	r.lastLength = r.steps
	r.steps = 0
	r.injected = nil
	r.delays = sample(r.rng, r.lastLength, r.maxDelays)
	return true
}

// Reset reseeds the generator and clears all delay state.
func (r *RoundRobin) Reset() {
	r.rng = newRNG(r.seed)
	r.steps = 0
	r.lastLength = 0
	r.delays = nil
	r.injected = nil
}

// IsFair is false: a fixed rotation can starve an actor forever.
func (r *RoundRobin) IsFair() bool { return false }

// ScheduledSteps returns the decisions taken in the current iteration.
func (r *RoundRobin) ScheduledSteps() int { return r.steps }

// InjectedDelays returns the steps at which a delay took effect in the
// current iteration.
func (r *RoundRobin) InjectedDelays() []int {
	return append([]int(nil), r.injected...)
}

// Describe returns the strategy description.
func (r *RoundRobin) Describe() string {
	return fmt.Sprintf("RoundRobin[delays '%d' %v, seed '%d']", r.maxDelays, r.delays, r.seed)
}
