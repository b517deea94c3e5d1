package machine

import (
	"sort"
	"sync"
)

// Coverage accumulates visited states and handled (state, event) pairs per
// machine type across iterations. A nil *Coverage records nothing.
type Coverage struct {
	mu       sync.Mutex
	machines map[string]*machineCoverage
}

type machineCoverage struct {
	states  []string
	visited map[string]int
	handled map[string]map[EventType]int
	bound   int
}

// NewCoverage returns an empty coverage recorder.
func NewCoverage() *Coverage {
	return &Coverage{machines: make(map[string]*machineCoverage)}
}

func (c *Coverage) machine(mt *MachineType) *machineCoverage {
	mc, ok := c.machines[mt.name]
	if ok {
		return mc
	}
	mc = &machineCoverage{
		visited: make(map[string]int),
		handled: make(map[string]map[EventType]int),
	}
	for _, s := range mt.states {
		mc.states = append(mc.states, s.name)
		mc.bound += len(s.handlers)
	}
	c.machines[mt.name] = mc
	return mc
}

func (c *Coverage) visited(mt *MachineType, s *StateDescriptor) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine(mt).visited[s.name]++
}

func (c *Coverage) handled(mt *MachineType, s *StateDescriptor, t EventType) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	mc := c.machine(mt)
	events, ok := mc.handled[s.name]
	if !ok {
		events = make(map[EventType]int)
		mc.handled[s.name] = events
	}
	events[t]++
}

// Merge adds the counts of other into c.
func (c *Coverage) Merge(other *Coverage) {
	if c == nil || other == nil || c == other {
		return
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, om := range other.machines {
		mc, ok := c.machines[name]
		if !ok {
			mc = &machineCoverage{
				states:  append([]string(nil), om.states...),
				visited: make(map[string]int),
				handled: make(map[string]map[EventType]int),
				bound:   om.bound,
			}
			c.machines[name] = mc
		}
		for s, n := range om.visited {
			mc.visited[s] += n
		}
		for s, events := range om.handled {
			dst, ok := mc.handled[s]
			if !ok {
				dst = make(map[EventType]int)
				mc.handled[s] = dst
			}
			for t, n := range events {
				dst[t] += n
			}
		}
	}
}

// CoverageSummary summarizes one machine type.
type CoverageSummary struct {
	Machine       string
	States        int
	StatesVisited int
	// Bindings counts declared handlers; wildcard and inherited bindings
	// count once for the state that declares them.
	Bindings      int
	EventsHandled int
	Unvisited     []string
}

// StatePercent returns the share of declared states that were visited.
func (s CoverageSummary) StatePercent() float64 {
	if s.States == 0 {
		return 0
	}
	return 100 * float64(s.StatesVisited) / float64(s.States)
}

// Summary returns one entry per machine type, sorted by name.
func (c *Coverage) Summary() []CoverageSummary {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CoverageSummary, 0, len(c.machines))
	for name, mc := range c.machines {
		s := CoverageSummary{Machine: name, States: len(mc.states), Bindings: mc.bound}
		for _, st := range mc.states {
			if mc.visited[st] > 0 {
				s.StatesVisited++
			} else {
				s.Unvisited = append(s.Unvisited, st)
			}
		}
		for _, events := range mc.handled {
			s.EventsHandled += len(events)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Machine < out[j].Machine })
	return out
}

// Visits returns how often the named state of machine was entered.
func (c *Coverage) Visits(machine, state string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if mc, ok := c.machines[machine]; ok {
		return mc.visited[state]
	}
	return 0
}
