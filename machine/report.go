package machine

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dshills/actorcheck-go/machine/trace"
)

var digits = regexp.MustCompile(`\d+`)

// Signature groups bugs by message with every number normalized, so the
// same defect found through different actor ids or counts collapses into
// one report entry.
func Signature(msg string) string {
	normalized := digits.ReplaceAllString(msg, "#")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:12])
}

// BugReport is one distinct bug with an example trace that reproduces it.
type BugReport struct {
	Kind      BugKind
	Message   string
	Signature string
	Actor     ActorID
	// Iteration is the first iteration that hit the bug.
	Iteration int
	// Count is the number of buggy iterations with this signature.
	Count    int
	Strategy string
	Seed     int64
	// Fair reports whether the strategy that found the bug is fair. Replay
	// applies fairness-dependent checks only when it is.
	Fair         bool
	Trace        *trace.Trace
	Fingerprints []uint64
}

// Report summarizes an exploration.
type Report struct {
	mu sync.Mutex

	RunID    string
	Strategy string
	Seed     int64

	Iterations int
	// BugCount is the number of buggy iterations.
	BugCount int
	Bugs     []*BugReport

	TotalSteps       int
	MinSteps         int
	MaxSteps         int
	BudgetExhausted  int
	AssumeViolations int
	DistinctStates   int
	// TimedOut is set when the exploration time budget ended the run.
	TimedOut bool

	Coverage   []CoverageSummary
	StartedAt  time.Time
	FinishedAt time.Time
}

func newReport(runID, strategy string, seed int64) *Report {
	return &Report{RunID: runID, Strategy: strategy, Seed: seed, StartedAt: time.Now()}
}

// record folds one finished iteration into the report. It returns the bug
// report entry when the iteration was buggy.
func (r *Report) record(res *iterationResult) *BugReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Iterations++
	r.TotalSteps += res.steps
	if r.Iterations == 1 || res.steps < r.MinSteps {
		r.MinSteps = res.steps
	}
	if res.steps > r.MaxSteps {
		r.MaxSteps = res.steps
	}
	if res.exhausted {
		r.BudgetExhausted++
	}
	if res.assumed {
		r.AssumeViolations++
	}
	if res.distinctStates > r.DistinctStates {
		r.DistinctStates = res.distinctStates
	}
	if res.bug == nil {
		return nil
	}

	r.BugCount++
	sig := Signature(res.bug.Message)
	for _, b := range r.Bugs {
		if b.Signature == sig {
			b.Count++
			return b
		}
	}
	br := &BugReport{
		Kind:         res.bug.Kind,
		Message:      res.bug.Message,
		Signature:    sig,
		Actor:        res.bug.Actor,
		Iteration:    res.bug.Iteration,
		Count:        1,
		Strategy:     r.Strategy,
		Seed:         r.Seed,
		Trace:        res.bug.Trace,
		Fingerprints: res.fingerprints,
	}
	r.Bugs = append(r.Bugs, br)
	return br
}

func (r *Report) markTimedOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TimedOut = true
}

// Merge folds other into r. Bug entries are merged by signature.
func (r *Report) Merge(other *Report) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Iterations == 0 || (other.Iterations > 0 && other.MinSteps < r.MinSteps) {
		r.MinSteps = other.MinSteps
	}
	r.Iterations += other.Iterations
	r.BugCount += other.BugCount
	r.TotalSteps += other.TotalSteps
	if other.MaxSteps > r.MaxSteps {
		r.MaxSteps = other.MaxSteps
	}
	r.BudgetExhausted += other.BudgetExhausted
	r.AssumeViolations += other.AssumeViolations
	r.TimedOut = r.TimedOut || other.TimedOut
	if other.DistinctStates > r.DistinctStates {
		r.DistinctStates = other.DistinctStates
	}
	if r.Strategy == "" {
		r.Strategy = other.Strategy
	} else if other.Strategy != "" && !strings.Contains(r.Strategy, other.Strategy) {
		r.Strategy += "; " + other.Strategy
	}

next:
	for _, ob := range other.Bugs {
		for _, b := range r.Bugs {
			if b.Signature == ob.Signature {
				b.Count += ob.Count
				continue next
			}
		}
		r.Bugs = append(r.Bugs, ob)
	}
	sort.SliceStable(r.Bugs, func(i, j int) bool { return r.Bugs[i].Count > r.Bugs[j].Count })
}

// AverageSteps returns the mean number of scheduling steps per iteration.
func (r *Report) AverageSteps() float64 {
	if r.Iterations == 0 {
		return 0
	}
	return float64(r.TotalSteps) / float64(r.Iterations)
}

// String renders a human-readable summary.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: %s\n", r.RunID, r.Strategy)
	fmt.Fprintf(&sb, "  iterations: %d, buggy: %d, distinct bugs: %d\n", r.Iterations, r.BugCount, len(r.Bugs))
	fmt.Fprintf(&sb, "  steps: min %d, avg %.1f, max %d (budget exhausted %d, assumptions violated %d)\n",
		r.MinSteps, r.AverageSteps(), r.MaxSteps, r.BudgetExhausted, r.AssumeViolations)
	if r.TimedOut {
		sb.WriteString("  stopped: time budget spent\n")
	}
	if r.DistinctStates > 0 {
		fmt.Fprintf(&sb, "  distinct states (max per iteration): %d\n", r.DistinctStates)
	}
	for _, b := range r.Bugs {
		fmt.Fprintf(&sb, "  bug %s [%s] x%d: %s\n", b.Signature, b.Kind, b.Count, b.Message)
	}
	for _, c := range r.Coverage {
		fmt.Fprintf(&sb, "  coverage %s: %d/%d states (%.0f%%), %d events handled\n",
			c.Machine, c.StatesVisited, c.States, c.StatePercent(), c.EventsHandled)
	}
	return sb.String()
}
