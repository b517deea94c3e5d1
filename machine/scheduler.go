package machine

import (
	"fmt"

	"github.com/dshills/actorcheck-go/machine/strategy"
	"github.com/dshills/actorcheck-go/machine/trace"
)

// scheduler serializes every nondeterministic decision of one iteration.
// Each decision is delegated to the strategy and appended to the trace.
//
// The strategy is consulted even when only one outcome is legal so that
// traces, DFS stacks and replays line up decision for decision.
type scheduler struct {
	strategy strategy.Strategy
	trace    *trace.Trace
	metrics  *PrometheusMetrics
	maxSteps int

	// steps counts scheduling decisions; choices do not consume budget.
	steps   int
	current uint64
}

func newScheduler(s strategy.Strategy, maxSteps int, metrics *PrometheusMetrics) *scheduler {
	return &scheduler{
		strategy: s,
		trace:    trace.New(),
		metrics:  metrics,
		maxSteps: maxSteps,
	}
}

func (s *scheduler) budgetExhausted() bool {
	return s.maxSteps > 0 && s.steps >= s.maxSteps
}

func (s *scheduler) fair() bool {
	return s.strategy.IsFair()
}

func (s *scheduler) nextActor(enabled []uint64) (uint64, error) {
	id, err := s.strategy.NextActor(enabled, s.current)
	if err != nil {
		return 0, err
	}
	s.trace.AddSchedulingChoice(id)
	s.current = id
	s.steps++
	s.metrics.IncrementDecisions(trace.SchedulingChoice.String())
	return id, s.inStep()
}

func (s *scheduler) nextBool(max int) (bool, error) {
	v, err := s.strategy.NextBool(max)
	if err != nil {
		return false, err
	}
	s.trace.AddBooleanChoice(v)
	s.metrics.IncrementDecisions(trace.BooleanChoice.String())
	return v, s.inStep()
}

func (s *scheduler) nextInt(max int) (int, error) {
	v, err := s.strategy.NextInt(max)
	if err != nil {
		return 0, err
	}
	s.trace.AddIntegerChoice(v)
	s.metrics.IncrementDecisions(trace.IntegerChoice.String())
	return v, s.inStep()
}

func (s *scheduler) nextFair(site string) (bool, error) {
	var (
		v   bool
		err error
	)
	if fc, ok := s.strategy.(strategy.FairChooser); ok {
		v, err = fc.NextFairBool(site)
	} else {
		v, err = s.strategy.NextBool(2)
	}
	if err != nil {
		return false, err
	}
	s.trace.AddFairChoice(site, v)
	s.metrics.IncrementDecisions(trace.FairChoice.String())
	return v, s.inStep()
}

// inStep checks that a counting strategy took exactly one decision per
// trace step.
func (s *scheduler) inStep() error {
	st, ok := s.strategy.(strategy.Stepper)
	if !ok {
		return nil
	}
	if n := st.ScheduledSteps(); n != s.trace.Len() {
		return fmt.Errorf("%w: %s counted %d decisions, trace holds %d",
			ErrStrategyOutOfStep, s.strategy.Describe(), n, s.trace.Len())
	}
	return nil
}
