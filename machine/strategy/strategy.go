// Package strategy provides the pluggable scheduling strategies consulted by
// the bug-finding scheduler.
//
// A strategy sees actors only as numeric ids. The scheduler passes the ids of
// the currently schedulable actors in ascending order together with the id of
// the previously scheduled actor (0 before the first step). Strategies keep
// per-iteration state that PrepareForNextIteration advances and Reset clears.
package strategy

import (
	"errors"
	"math/rand"
	"sort"
)

// ErrNoChoice is returned when a strategy is asked to pick from an empty set.
var ErrNoChoice = errors.New("no schedulable choice available")

// ErrReplayMismatch indicates that a replayed execution diverged from the
// recorded trace: the program is nondeterministic outside scheduler control.
var ErrReplayMismatch = errors.New("replay diverged from recorded trace")

// ErrNondeterministic indicates that a systematic strategy revisited a
// prefix and observed a different set of choices than before.
var ErrNondeterministic = errors.New("program behaved nondeterministically under a fixed schedule prefix")

// Strategy decides every nondeterministic outcome of an iteration.
type Strategy interface {
	// NextActor picks one of enabled. current is the previously scheduled
	// actor, or 0.
	NextActor(enabled []uint64, current uint64) (uint64, error)

	// NextBool resolves a boolean choice; true has probability 1/max for
	// randomized strategies.
	NextBool(max int) (bool, error)

	// NextInt resolves an integer choice in [0, max).
	NextInt(max int) (int, error)

	// PrepareForNextIteration advances to the next iteration. It returns
	// false when the strategy has nothing left to explore.
	PrepareForNextIteration() bool

	// Reset returns the strategy to its initial state.
	Reset()

	// IsFair reports whether enabled actors are never starved forever.
	IsFair() bool

	// Describe returns a human-readable description including its seed.
	Describe() string
}

// FairChooser is implemented by strategies that need to distinguish fair
// choices from ordinary boolean choices.
type FairChooser interface {
	NextFairBool(id string) (bool, error)
}

// Stepper is implemented by strategies that count their decisions.
type Stepper interface {
	ScheduledSteps() int
}

func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func contains(ids []uint64, id uint64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

// sample returns up to n distinct values from [0, limit) in ascending order.
func sample(rng *rand.Rand, limit, n int) []int {
	if limit <= 0 || n <= 0 {
		return nil
	}
	if n > limit {
		n = limit
	}
	points := rng.Perm(limit)[:n]
	sort.Ints(points)
	return points
}
