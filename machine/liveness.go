package machine

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// livenessChecker inspects cycles in the state cache. A cycle is the run of
// entries between two scheduling steps with the same fingerprint. It is a
// liveness violation when some monitor is hot throughout and the cycle is
// fair: every actor enabled in it was also scheduled in it, and every fair
// choice site in it was resolved both ways.
//
// Cycles found benign are remembered by their own hash and skipped later;
// the checker outlives a single iteration.
type livenessChecker struct {
	benign  map[uint64]struct{}
	metrics *PrometheusMetrics
}

func newLivenessChecker(metrics *PrometheusMetrics) *livenessChecker {
	return &livenessChecker{benign: make(map[uint64]struct{}), metrics: metrics}
}

// cycleVerdict describes one inspected cycle. Monitor is empty for benign
// cycles.
type cycleVerdict struct {
	Verdict string
	Monitor string
	Length  int
}

// check looks for a violating cycle closed by the entry at idx. It returns
// the name of a monitor that stayed hot throughout. observe, when non-nil,
// sees every newly inspected cycle.
//
// Two candidate cycles are inspected: the shortest, back to the previous
// occurrence of the fingerprint, and the longest, back to the first.
func (l *livenessChecker) check(c *StateCache, idx int, observe func(cycleVerdict)) (string, bool, error) {
	if idx < 0 || idx >= len(c.entries) {
		return "", false, fmt.Errorf("%w: entry %d out of range", ErrStateCacheCorrupted, idx)
	}
	e := c.entries[idx]
	if e.Choice {
		return "", false, nil
	}
	occ := c.occurrences(e.Fingerprint)
	if len(occ) == 0 || occ[len(occ)-1] != idx {
		return "", false, fmt.Errorf("%w: entry %d missing from fingerprint index", ErrStateCacheCorrupted, idx)
	}
	if len(occ) < 2 {
		return "", false, nil
	}

	starts := []int{occ[len(occ)-2]}
	if occ[0] != starts[0] {
		starts = append(starts, occ[0])
	}
	for _, start := range starts {
		cycle := c.entries[start:idx]
		key := cycleKey(cycle)
		if _, ok := l.benign[key]; ok {
			continue
		}
		if monitor, ok := violates(cycle); ok {
			l.metrics.IncrementCycles("violation")
			if observe != nil {
				observe(cycleVerdict{Verdict: "violation", Monitor: monitor, Length: len(cycle)})
			}
			return monitor, true, nil
		}
		l.metrics.IncrementCycles("benign")
		l.benign[key] = struct{}{}
		if observe != nil {
			observe(cycleVerdict{Verdict: "benign", Length: len(cycle)})
		}
	}
	return "", false, nil
}

func cycleKey(cycle []cacheEntry) uint64 {
	d := xxhash.New()
	for _, e := range cycle {
		if e.Choice {
			_, _ = d.WriteString(e.FairID)
			if e.FairValue {
				_, _ = d.WriteString("=1;")
			} else {
				_, _ = d.WriteString("=0;")
			}
			continue
		}
		writeUint64(d, e.Fingerprint)
		writeUint64(d, e.Scheduled)
	}
	return d.Sum64()
}

func violates(cycle []cacheEntry) (string, bool) {
	var hot map[string]bool
	scheduled := make(map[uint64]bool)
	enabled := make(map[uint64]bool)
	fair := make(map[string][2]bool)

	for _, e := range cycle {
		if e.Choice {
			if e.FairID != "" {
				seen := fair[e.FairID]
				if e.FairValue {
					seen[1] = true
				} else {
					seen[0] = true
				}
				fair[e.FairID] = seen
			}
			continue
		}
		next := make(map[string]bool, len(e.Hot))
		for _, m := range e.Hot {
			if hot == nil || hot[m] {
				next[m] = true
			}
		}
		hot = next
		if len(hot) == 0 {
			return "", false
		}
		scheduled[e.Scheduled] = true
		for _, id := range e.Enabled {
			enabled[id] = true
		}
	}
	if len(hot) == 0 {
		return "", false
	}
	for id := range enabled {
		if !scheduled[id] {
			return "", false
		}
	}
	for _, seen := range fair {
		if !seen[0] || !seen[1] {
			return "", false
		}
	}
	for _, e := range cycle {
		for _, m := range e.Hot {
			if hot[m] {
				return m, true
			}
		}
	}
	return "", false
}
