package machine

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/actorcheck-go/machine/strategy"
)

func sched(step int, fp, scheduled uint64, enabled []uint64, hot ...string) cacheEntry {
	return cacheEntry{Fingerprint: fp, Step: step, Scheduled: scheduled, Enabled: enabled, Hot: hot}
}

func fill(t *testing.T, entries ...cacheEntry) *StateCache {
	t.Helper()
	c := newStateCache()
	for _, e := range entries {
		_, err := c.push(e)
		require.NoError(t, err)
	}
	return c
}

func TestLivenessCheckerFairHotCycle(t *testing.T) {
	both := []uint64{1, 2}
	c := fill(t,
		sched(0, 10, 1, both, "Progress"),
		sched(1, 20, 2, both, "Progress"),
		sched(2, 10, 1, both, "Progress"),
	)
	l := newLivenessChecker(nil)
	monitor, found, err := l.check(c, 2, nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Progress", monitor)
}

func TestLivenessCheckerUnfairCycleIsBenign(t *testing.T) {
	both := []uint64{1, 2}
	c := fill(t,
		sched(0, 10, 1, both, "Progress"),
		sched(1, 20, 1, both, "Progress"),
		sched(2, 10, 1, both, "Progress"),
	)
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	l := newLivenessChecker(metrics)

	var verdicts []cycleVerdict
	observe := func(v cycleVerdict) { verdicts = append(verdicts, v) }

	_, found, err := l.check(c, 2, observe)
	require.NoError(t, err)
	assert.False(t, found, "actor 2 is starved, so the cycle is not fair")
	assert.Equal(t, []cycleVerdict{{Verdict: "benign", Length: 2}}, verdicts)
	assert.Len(t, l.benign, 1)

	// The same cycle closing again is answered from memory.
	_, err = c.push(sched(3, 20, 1, both, "Progress"))
	require.NoError(t, err)
	_, err = c.push(sched(4, 10, 1, both, "Progress"))
	require.NoError(t, err)
	_, found, err = l.check(c, 4, observe)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, cycleVerdict{Verdict: "benign", Length: 4}, verdicts[len(verdicts)-1])
	assert.Len(t, verdicts, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.cycles.WithLabelValues("benign")),
		"the longest cycle is new, the shortest is remembered")
}

func TestLivenessCheckerColdEntryBreaksCycle(t *testing.T) {
	one := []uint64{1}
	c := fill(t,
		sched(0, 10, 1, one, "Progress"),
		sched(1, 20, 1, one),
		sched(2, 10, 1, one, "Progress"),
	)
	_, found, err := newLivenessChecker(nil).check(c, 2, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLivenessCheckerOneSidedFairChoice(t *testing.T) {
	one := []uint64{1}
	c := fill(t,
		sched(0, 10, 1, one, "Progress"),
		cacheEntry{Step: 1, Choice: true, FairID: "loop.go:12@1", FairValue: true},
		sched(2, 10, 1, one, "Progress"),
	)
	_, found, err := newLivenessChecker(nil).check(c, 2, nil)
	require.NoError(t, err)
	assert.False(t, found, "a fair choice resolved one way only is not a fair cycle")

	c = fill(t,
		sched(0, 10, 1, one, "Progress"),
		cacheEntry{Step: 1, Choice: true, FairID: "loop.go:12@1", FairValue: true},
		sched(2, 20, 1, one, "Progress"),
		cacheEntry{Step: 3, Choice: true, FairID: "loop.go:12@1", FairValue: false},
		sched(4, 10, 1, one, "Progress"),
	)
	_, found, err = newLivenessChecker(nil).check(c, 4, nil)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStateCacheCorruption(t *testing.T) {
	c := newStateCache()
	_, err := c.push(sched(3, 1, 1, nil))
	require.NoError(t, err)
	_, err = c.push(sched(3, 2, 1, nil))
	assert.True(t, errors.Is(err, ErrStateCacheCorrupted))

	_, _, err = newLivenessChecker(nil).check(c, 5, nil)
	assert.True(t, errors.Is(err, ErrStateCacheCorrupted))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.DistinctStates())
}

func TestHotMonitorAtTermination(t *testing.T) {
	report := runOnce(t, func(rt *Runtime) {
		rt.RegisterMonitor(progressMonitor(t))
		rt.Monitor("Progress", NewEvent("Request", nil))
	})
	bug := onlyBug(t, report)
	assert.Equal(t, BugLiveness, bug.Kind)
	assert.Equal(t,
		"Monitor 'Progress' detected liveness bug in hot state 'Busy' at the end of program execution.",
		bug.Message)
	assert.Equal(t, "Progress", bug.Actor.Type)
}

func TestColdMonitorAtTermination(t *testing.T) {
	report := runOnce(t, func(rt *Runtime) {
		rt.RegisterMonitor(progressMonitor(t))
		rt.Monitor("Progress", NewEvent("Request", nil))
		rt.Monitor("Progress", NewEvent("Done", nil))
	})
	assert.Empty(t, report.Bugs)
}

func TestInfiniteHotExecution(t *testing.T) {
	test, _ := selfLoop(t, true)
	report := runOnce(t, test)
	bug := onlyBug(t, report)
	assert.Equal(t, BugLiveness, bug.Kind)
	assert.Equal(t, "Monitor 'Progress' detected infinite execution that violates a liveness property.", bug.Message)
	assert.Greater(t, report.DistinctStates, 0)
}

func TestColdLoopRunsOutOfBudget(t *testing.T) {
	test, _ := selfLoop(t, false)
	report := runOnce(t, test, WithMaxSteps(50))
	assert.Empty(t, report.Bugs)
	assert.Equal(t, 1, report.BudgetExhausted)
	assert.Equal(t, 50, report.MaxSteps)
}

func TestTemperatureThreshold(t *testing.T) {
	test, _ := selfLoop(t, true)
	report := runOnce(t, test,
		WithStrategy(strategy.NewRandom(1)),
		WithStateCaching(false),
		WithLivenessTemperatureThreshold(10),
	)
	bug := onlyBug(t, report)
	assert.Equal(t, "Monitor 'Progress' detected potential liveness bug in hot state 'Busy'.", bug.Message)

	t.Run("ignored by unfair strategies", func(t *testing.T) {
		report := runOnce(t, test,
			WithStateCaching(false),
			WithLivenessTemperatureThreshold(10),
			WithMaxSteps(40),
		)
		assert.Empty(t, report.Bugs)
		assert.Equal(t, 1, report.BudgetExhausted)
	})
}

func TestLivenessDisabled(t *testing.T) {
	test, _ := selfLoop(t, true)
	report := runOnce(t, test, WithLivenessChecking(false), WithMaxSteps(20))
	assert.Empty(t, report.Bugs)
	assert.Equal(t, 1, report.BudgetExhausted)
}

type toggler struct {
	hot bool
}

func (t *toggler) HashState() uint64 {
	if t.hot {
		return 1
	}
	return 0
}

// twoLoopers builds two machines ticking forever. With toggle each tick
// alternately requests and completes progress; without it each machine
// requests progress once at start and never completes it.
func twoLoopers(t *testing.T, toggle bool) TestFunc {
	t.Helper()
	progress := progressMonitor(t)
	loop := must(NewType("Looper", func() *toggler { return &toggler{} }).
		State("Running").Initial().
		OnEntry(func(c *Context, m *toggler, ev Event) error {
			if !toggle {
				c.Monitor("Progress", NewEvent("Request", nil))
			}
			c.Send(c.ID(), NewEvent("Tick", nil))
			return nil
		}).
		On("Tick", func(c *Context, m *toggler, ev Event) error {
			if toggle {
				if m.hot {
					c.Monitor("Progress", NewEvent("Done", nil))
				} else {
					c.Monitor("Progress", NewEvent("Request", nil))
				}
				m.hot = !m.hot
			}
			c.Send(c.ID(), NewEvent("Tick", nil))
			return nil
		}).
		Build())

	return func(rt *Runtime) {
		rt.RegisterMonitor(progress)
		rt.CreateMachine(loop, Event{})
		rt.CreateMachine(loop, Event{})
	}
}

func TestFairStrategyFlagsPermanentlyHotCycle(t *testing.T) {
	report := runOnce(t, twoLoopers(t, false), WithStrategy(strategy.NewRandom(7)))
	bug := onlyBug(t, report)
	assert.Equal(t, BugLiveness, bug.Kind)
	assert.Equal(t, "Monitor 'Progress' detected infinite execution that violates a liveness property.", bug.Message)
	assert.Equal(t, 0, report.BudgetExhausted)
}

func TestFairStrategyNeverFlagsHotThenCold(t *testing.T) {
	report := runOnce(t, twoLoopers(t, true),
		WithStrategy(strategy.NewRandom(7)),
		WithIterations(200),
		WithMaxSteps(100),
	)
	assert.Empty(t, report.Bugs, "report: %s", report)
	assert.Equal(t, 200, report.Iterations)
	assert.Equal(t, 200, report.BudgetExhausted)
}
