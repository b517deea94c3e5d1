package machine

import "fmt"

// cacheEntry describes the program state at one trace step.
//
// Scheduling entries carry the fingerprint taken just before the decision,
// the enabled set and the hot monitors. Choice entries only record fair
// choices; they are never indexed for cycle detection.
type cacheEntry struct {
	Fingerprint uint64
	Step        int
	Scheduled   uint64
	Enabled     []uint64
	Hot         []string

	Choice    bool
	FairID    string
	FairValue bool
}

// StateCache holds the entries of one iteration, indexed by fingerprint.
type StateCache struct {
	entries []cacheEntry
	seen    map[uint64][]int
}

func newStateCache() *StateCache {
	return &StateCache{seen: make(map[uint64][]int)}
}

func (c *StateCache) push(e cacheEntry) (int, error) {
	if n := len(c.entries); n > 0 && e.Step <= c.entries[n-1].Step {
		return -1, fmt.Errorf("%w: step %d recorded after step %d", ErrStateCacheCorrupted, e.Step, c.entries[n-1].Step)
	}
	c.entries = append(c.entries, e)
	idx := len(c.entries) - 1
	if !e.Choice {
		c.seen[e.Fingerprint] = append(c.seen[e.Fingerprint], idx)
	}
	return idx, nil
}

// Len returns the number of entries.
func (c *StateCache) Len() int { return len(c.entries) }

// DistinctStates returns the number of distinct fingerprints seen at
// scheduling steps.
func (c *StateCache) DistinctStates() int { return len(c.seen) }

// occurrences returns the scheduling-entry indices with fingerprint fp.
func (c *StateCache) occurrences(fp uint64) []int {
	return c.seen[fp]
}
