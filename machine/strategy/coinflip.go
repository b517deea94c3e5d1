package strategy

import "fmt"

// CoinFlip is a probabilistic random strategy biased toward continuity: the
// previously scheduled actor keeps running unless Flips consecutive coin
// flips all come up "switch". Switching therefore happens with probability
// 2^-Flips per step, after which the next actor is drawn uniformly.
type CoinFlip struct {
	*Random
	flips int
}

// NewCoinFlip returns a coin-flip strategy. flips < 1 is treated as 1.
func NewCoinFlip(seed int64, flips int) *CoinFlip {
	if flips < 1 {
		flips = 1
	}
	return &CoinFlip{Random: NewRandom(seed), flips: flips}
}

// NextActor keeps current when it is still enabled and the coin says so.
func (c *CoinFlip) NextActor(enabled []uint64, current uint64) (uint64, error) {
	if len(enabled) == 0 {
		return 0, ErrNoChoice
	}
	if current != 0 && contains(enabled, current) && !c.shouldSwitch() {
		c.steps++
		return current, nil
	}
	return c.Random.NextActor(enabled, current)
}

func (c *CoinFlip) shouldSwitch() bool {
	for i := 0; i < c.flips; i++ {
		if c.rng.Intn(2) == 1 {
			return false
		}
	}
	return true
}

// Describe returns the strategy description.
func (c *CoinFlip) Describe() string {
	return fmt.Sprintf("CoinFlip[flips '%d', seed '%d']", c.flips, c.seed)
}
