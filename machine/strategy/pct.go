package strategy

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// PCT is the probabilistic concurrency testing strategy. Every actor gets a
// random priority when it first becomes schedulable and the highest-priority
// schedulable actor always runs. At a small number of sampled change points
// the currently highest-priority actor is demoted to the lowest priority.
type PCT struct {
	seed            int64
	rng             *rand.Rand
	maxChangePoints int

	steps          int
	scheduleLength int
	priorities     []uint64
	changePoints   map[int]struct{}
}

// NewPCT returns a PCT strategy with up to maxChangePoints priority change
// points per iteration.
func NewPCT(seed int64, maxChangePoints int) *PCT {
	return &PCT{
		seed:            seed,
		rng:             newRNG(seed),
		maxChangePoints: maxChangePoints,
		changePoints:    make(map[int]struct{}),
	}
}

// NextActor returns the highest-priority enabled actor.
func (p *PCT) NextActor(enabled []uint64, _ uint64) (uint64, error) {
	if len(enabled) == 0 {
		return 0, ErrNoChoice
	}
	for _, id := range enabled {
		if !p.known(id) {
			p.insert(id)
		}
	}

	if _, ok := p.changePoints[p.steps]; ok {
		if len(enabled) == 1 {
			p.moveChangePointForward()
		} else {
			p.demote(p.highest(enabled))
		}
	}

	p.steps++
	return p.highest(enabled), nil
}

func (p *PCT) known(id uint64) bool {
	for _, v := range p.priorities {
		if v == id {
			return true
		}
	}
	return false
}

// insert places id at a random position below the current top priority.
func (p *PCT) insert(id uint64) {
	pos := 0
	if len(p.priorities) > 0 {
		pos = p.rng.Intn(len(p.priorities)) + 1
	}
	p.priorities = append(p.priorities, 0)
	copy(p.priorities[pos+1:], p.priorities[pos:])
	p.priorities[pos] = id
}

func (p *PCT) demote(id uint64) {
	for i, v := range p.priorities {
		if v == id {
			p.priorities = append(p.priorities[:i], p.priorities[i+1:]...)
			p.priorities = append(p.priorities, id)
			return
		}
	}
}

func (p *PCT) highest(enabled []uint64) uint64 {
	for _, id := range p.priorities {
		if contains(enabled, id) {
			return id
		}
	}
	return enabled[0]
}

func (p *PCT) moveChangePointForward() {
	delete(p.changePoints, p.steps)
	next := p.steps + 1
	for {
		if _, taken := p.changePoints[next]; !taken {
			break
		}
		next++
	}
	p.changePoints[next] = struct{}{}
}

// NextBool returns true with probability 1/max.
func (p *PCT) NextBool(max int) (bool, error) {
	p.steps++
	if max <= 1 {
		return true, nil
	}
	return p.rng.Intn(max) == 0, nil
}

// NextInt returns a value in [0, max).
func (p *PCT) NextInt(max int) (int, error) {
	p.steps++
	if max <= 1 {
		return 0, nil
	}
	return p.rng.Intn(max), nil
}

// PrepareForNextIteration resets priorities and samples new change points
// from the longest schedule observed so far.
func (p *PCT) PrepareForNextIteration() bool {
	if p.steps > p.scheduleLength {
		p.scheduleLength = p.steps
	}
	p.steps = 0
	p.priorities = nil
	p.changePoints = make(map[int]struct{})
	for _, cp := range sample(p.rng, p.scheduleLength, p.maxChangePoints) {
		p.changePoints[cp] = struct{}{}
	}
	return true
}

// Reset reseeds the generator and forgets the observed schedule length.
func (p *PCT) Reset() {
	p.rng = newRNG(p.seed)
	p.steps = 0
	p.scheduleLength = 0
	p.priorities = nil
	p.changePoints = make(map[int]struct{})
}

// IsFair is false: low-priority actors may never run.
func (p *PCT) IsFair() bool { return false }

// ScheduledSteps returns the decisions taken in the current iteration.
func (p *PCT) ScheduledSteps() int { return p.steps }

// ChangePoints returns the sorted change points of the current iteration.
func (p *PCT) ChangePoints() []int {
	out := make([]int, 0, len(p.changePoints))
	for cp := range p.changePoints {
		out = append(out, cp)
	}
	sort.Ints(out)
	return out
}

// Describe returns the strategy description.
func (p *PCT) Describe() string {
	points := p.ChangePoints()
	strs := make([]string, len(points))
	for i, cp := range points {
		strs[i] = fmt.Sprint(cp)
	}
	return fmt.Sprintf("PCT[priority change points '%d' [%s], seed '%d']",
		p.maxChangePoints, strings.Join(strs, ", "), p.seed)
}
