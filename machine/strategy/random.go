package strategy

import (
	"fmt"
	"math/rand"
)

// Random schedules uniformly at random from a seeded generator.
type Random struct {
	seed  int64
	rng   *rand.Rand
	steps int
}

// NewRandom returns a uniform random strategy.
func NewRandom(seed int64) *Random {
	return &Random{seed: seed, rng: newRNG(seed)}
}

// NextActor picks uniformly from enabled.
func (r *Random) NextActor(enabled []uint64, _ uint64) (uint64, error) {
	if len(enabled) == 0 {
		return 0, ErrNoChoice
	}
	r.steps++
	return enabled[r.rng.Intn(len(enabled))], nil
}

// NextBool returns true with probability 1/max.
func (r *Random) NextBool(max int) (bool, error) {
	r.steps++
	if max <= 1 {
		return true, nil
	}
	return r.rng.Intn(max) == 0, nil
}

// NextInt returns a value in [0, max).
func (r *Random) NextInt(max int) (int, error) {
	r.steps++
	if max <= 1 {
		return 0, nil
	}
	return r.rng.Intn(max), nil
}

// PrepareForNextIteration always succeeds; the generator keeps advancing so
// every iteration draws a fresh schedule.
func (r *Random) PrepareForNextIteration() bool {
	r.steps = 0
	return true
}

// Reset reseeds the generator.
func (r *Random) Reset() {
	r.rng = newRNG(r.seed)
	r.steps = 0
}

// IsFair is true: every enabled actor is picked with positive probability.
func (r *Random) IsFair() bool { return true }

// ScheduledSteps returns the decisions taken in the current iteration.
func (r *Random) ScheduledSteps() int { return r.steps }

// Describe returns the strategy description.
func (r *Random) Describe() string {
	return fmt.Sprintf("Random[seed '%d']", r.seed)
}
