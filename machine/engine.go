package machine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/actorcheck-go/machine/emit"
	"github.com/dshills/actorcheck-go/machine/store"
	"github.com/dshills/actorcheck-go/machine/strategy"
	"github.com/dshills/actorcheck-go/machine/trace"
)

// Engine explores the interleavings of a test. Each iteration runs the test
// harness in a fresh Runtime under the scheduling strategy and stops at the
// first bug, at termination, or when the step budget is spent.
//
// Example:
//
//	engine, err := machine.New(pingPongTest,
//	    machine.WithStrategy(strategy.NewDFS()),
//	    machine.WithIterations(100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := engine.Run(ctx)
//	for _, bug := range report.Bugs {
//	    fmt.Println(bug.Message)
//	}
//
// An Engine holds one strategy instance, so Run and Replay must not be
// called concurrently on the same Engine.
type Engine struct {
	test TestFunc
	opts Options
}

// iterationResult is the outcome of one iteration.
type iterationResult struct {
	bug            *Bug
	steps          int
	trace          *trace.Trace
	fingerprints   []uint64
	exhausted      bool
	assumed        bool
	fault          error
	distinctStates int
}

// ReplayResult is the outcome of replaying a trace.
type ReplayResult struct {
	// Bug is the bug reproduced by the trace, or nil.
	Bug   *Bug
	Steps int
	// Fingerprints holds the program fingerprint before every scheduling
	// decision. Two replays of the same trace yield equal fingerprints.
	Fingerprints []uint64
	Trace        *trace.Trace
}

// New creates an Engine for test.
func New(test TestFunc, opts ...Option) (*Engine, error) {
	if test == nil {
		return nil, &EngineError{Message: "test function is required", Code: "NO_TEST", Err: ErrNoTest}
	}
	cfg := &engineConfig{opts: DefaultOptions()}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.opts.Emitter == nil {
		cfg.opts.Emitter = emit.NewNullEmitter()
	}
	if cfg.opts.Logger == nil {
		cfg.opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{test: test, opts: cfg.opts}, nil
}

// Options returns the effective configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// Run explores the test and returns the report. Bugs are part of the report,
// not errors; Run fails only on engine faults, cancellation or store errors.
// On failure the partial report is still returned.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := e.opts.RunID
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, &EngineError{Message: "failed to generate run ID", Code: "RUN_ID", Err: err}
		}
		runID = id
	}
	seed := e.opts.Seed
	if seed == 0 {
		seed = seedFromRunID(runID)
	}

	runCtx, cancel := withRunTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var coverage *Coverage
	if e.opts.Coverage {
		coverage = NewCoverage()
	}

	e.opts.Emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   "run_start",
		Meta: map[string]interface{}{
			"iterations": e.opts.Iterations,
			"max_steps":  e.opts.MaxSteps,
			"seed":       seed,
			"portfolio":  len(e.opts.Portfolio),
		},
	})

	var (
		report *Report
		err    error
	)
	if len(e.opts.Portfolio) > 0 {
		report, err = e.runPortfolio(runCtx, runID, seed, coverage)
	} else {
		s := e.opts.Strategy
		if s == nil {
			s = strategy.NewRandom(seed)
		}
		report, err = e.explore(runCtx, runID, s, seed, nil, coverage)
	}
	report.Coverage = coverage.Summary()
	report.FinishedAt = time.Now()

	if err == nil {
		err = e.persist(ctx, report)
	}

	end := emit.Event{
		RunID: runID,
		Msg:   "run_end",
		Meta: map[string]interface{}{
			"iterations":    report.Iterations,
			"bugs":          report.BugCount,
			"distinct_bugs": len(report.Bugs),
			"duration_ms":   report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		},
	}
	if err != nil {
		end.Meta["error"] = err.Error()
	}
	e.opts.Emitter.Emit(end)
	e.opts.Logger.Info("exploration finished",
		"run_id", runID,
		"iterations", report.Iterations,
		"bugs", report.BugCount,
		"distinct_bugs", len(report.Bugs))
	return report, err
}

// runPortfolio explores with every factory concurrently. Unless full
// exploration is on, the first member to find a bug stops the others at
// their next iteration boundary. Each member records its own coverage,
// merged into coverage once all members are done.
func (e *Engine) runPortfolio(ctx context.Context, runID string, seed int64, coverage *Coverage) (*Report, error) {
	var stop *atomic.Bool
	if !e.opts.FullExploration {
		stop = new(atomic.Bool)
	}

	reports := make([]*Report, len(e.opts.Portfolio))
	covered := make([]*Coverage, len(e.opts.Portfolio))
	g, gctx := errgroup.WithContext(ctx)
	for i, factory := range e.opts.Portfolio {
		i, factory := i, factory
		memberSeed := seed + int64(i)
		if coverage != nil {
			covered[i] = NewCoverage()
		}
		g.Go(func() error {
			r, err := e.explore(gctx, runID, factory(memberSeed), memberSeed, stop, covered[i])
			reports[i] = r
			return err
		})
	}
	err := g.Wait()
	for _, c := range covered {
		coverage.Merge(c)
	}

	merged := newReport(runID, "", seed)
	for _, r := range reports {
		if r == nil {
			continue
		}
		if r.StartedAt.Before(merged.StartedAt) {
			merged.StartedAt = r.StartedAt
		}
		merged.Merge(r)
	}
	return merged, err
}

// explore runs iterations of one strategy. stop, when non-nil, is shared by
// portfolio members.
func (e *Engine) explore(ctx context.Context, runID string, s strategy.Strategy, seed int64,
	stop *atomic.Bool, coverage *Coverage) (*Report, error) {
	report := newReport(runID, s.Describe(), seed)
	s.Reset()

	var liveness *livenessChecker
	if e.opts.LivenessChecking && e.opts.StateCaching {
		liveness = newLivenessChecker(e.opts.Metrics)
	}

	for i := 0; i < e.opts.Iterations; i++ {
		if stop != nil && stop.Load() {
			break
		}
		if err := ctx.Err(); err != nil && e.timeBudgetSpent(err) {
			report.markTimedOut()
			break
		}
		if i > 0 && !s.PrepareForNextIteration() {
			e.opts.Logger.Debug("strategy exhausted", "strategy", s.Describe(), "iterations", i)
			break
		}

		res := e.runIteration(ctx, runID, i+1, s, liveness, coverage)
		if res.fault != nil && e.timeBudgetSpent(res.fault) {
			e.opts.Logger.Info("exploration time budget spent", "run_id", runID, "iterations", i)
			report.markTimedOut()
			break
		}
		if res.fault != nil {
			report.FinishedAt = time.Now()
			return report, faultError(res.fault)
		}

		br := report.record(res)
		if res.exhausted {
			e.opts.Emitter.Emit(emit.Event{
				RunID:     runID,
				Iteration: i + 1,
				Step:      res.steps,
				Msg:       "budget_exhausted",
			})
		}
		if res.bug == nil {
			continue
		}

		if br.Count == 1 {
			// Describe after the iteration names the exact configuration
			// that found the bug, e.g. PCT change points.
			br.Strategy = s.Describe()
			br.Fair = s.IsFair()
		}
		e.opts.Metrics.IncrementBugs(res.bug.Kind)
		e.opts.Emitter.Emit(emit.Event{
			RunID:     runID,
			Iteration: i + 1,
			Step:      res.steps,
			ActorID:   actorLabel(res.bug.Actor),
			Msg:       "bug_found",
			Meta: map[string]interface{}{
				"kind":      res.bug.Kind.String(),
				"message":   res.bug.Message,
				"signature": br.Signature,
				"strategy":  s.Describe(),
			},
		})
		e.opts.Logger.Warn("bug found",
			"run_id", runID,
			"iteration", i+1,
			"kind", res.bug.Kind.String(),
			"message", res.bug.Message)

		if !e.opts.FullExploration {
			if stop != nil {
				stop.Store(true)
			}
			break
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

func (e *Engine) newRuntime(ctx context.Context, runID string, iteration int, s strategy.Strategy,
	liveness *livenessChecker, coverage *Coverage) *Runtime {
	rt := &Runtime{
		ctx:           ctx,
		runID:         runID,
		iteration:     iteration,
		sched:         newScheduler(s, e.opts.MaxSteps, e.opts.Metrics),
		logger:        e.opts.Logger,
		emitter:       e.opts.Emitter,
		coverage:      coverage,
		checkLiveness: e.opts.LivenessChecking,
		threshold:     e.opts.LivenessTemperatureThreshold,
		byID:          make(map[uint64]*actor),
		monitorByName: make(map[string]*actor),
	}
	if e.opts.StateCaching {
		rt.cache = newStateCache()
		rt.liveness = liveness
	}
	return rt
}

func (e *Engine) runIteration(ctx context.Context, runID string, iteration int, s strategy.Strategy,
	liveness *livenessChecker, coverage *Coverage) *iterationResult {
	start := time.Now()
	e.opts.Emitter.Emit(emit.Event{RunID: runID, Iteration: iteration, Msg: "iteration_start"})

	rt := e.newRuntime(ctx, runID, iteration, s, liveness, coverage)
	rt.run(e.test)

	res := &iterationResult{
		bug:          rt.bug,
		steps:        rt.sched.steps,
		trace:        rt.sched.trace,
		fingerprints: rt.fingerprints,
		exhausted:    rt.exhausted,
		assumed:      rt.assumed,
		fault:        rt.fault,
	}
	if rt.cache != nil {
		res.distinctStates = rt.cache.DistinctStates()
		e.opts.Metrics.SetDistinctStates(res.distinctStates)
	}

	d := time.Since(start)
	e.opts.Metrics.RecordIteration(strategyName(s), res.steps, d)
	e.opts.Emitter.Emit(emit.Event{
		RunID:     runID,
		Iteration: iteration,
		Step:      res.steps,
		Msg:       "iteration_end",
		Meta: map[string]interface{}{
			"buggy":       res.bug != nil,
			"duration_ms": d.Milliseconds(),
		},
	})
	return res
}

// Replay re-executes t under a replay strategy. The program must make the
// same decisions in the same order; any divergence, including an execution
// that ends before the trace is consumed, fails with ErrReplayMismatch.
//
// The replay is as fair as the configured strategy: the single portfolio
// member when there is one, and the fair default Random otherwise.
func (e *Engine) Replay(ctx context.Context, t *trace.Trace) (*ReplayResult, error) {
	fair := true
	switch {
	case e.opts.Strategy != nil:
		fair = e.opts.Strategy.IsFair()
	case len(e.opts.Portfolio) == 1:
		fair = e.opts.Portfolio[0](1).IsFair()
	}
	return e.replay(ctx, t, fair)
}

func (e *Engine) replay(ctx context.Context, t *trace.Trace, fair bool) (*ReplayResult, error) {
	if t == nil {
		return nil, &EngineError{Message: "trace cannot be nil", Code: "INVALID_TRACE"}
	}
	runID := e.opts.RunID
	if runID == "" {
		runID = "replay"
	}
	rs := strategy.NewReplay(t, fair)

	e.opts.Emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   "replay_start",
		Meta:  map[string]interface{}{"trace_len": t.Len()},
	})

	var liveness *livenessChecker
	if e.opts.LivenessChecking && e.opts.StateCaching {
		liveness = newLivenessChecker(e.opts.Metrics)
	}
	res := e.runIteration(ctx, runID, 1, rs, liveness, nil)

	out := &ReplayResult{
		Bug:          res.bug,
		Steps:        res.steps,
		Fingerprints: res.fingerprints,
		Trace:        res.trace,
	}

	err := res.fault
	if err == nil && rs.Remaining() > 0 {
		err = fmt.Errorf("%w: Trace is not reproducible: execution ended with %d of %d steps unconsumed",
			ErrReplayMismatch, rs.Remaining(), t.Len())
	}

	end := emit.Event{RunID: runID, Step: res.steps, Msg: "replay_end", Meta: map[string]interface{}{}}
	if res.bug != nil {
		end.Meta["kind"] = res.bug.Kind.String()
		end.Meta["message"] = res.bug.Message
	}
	if err != nil {
		end.Meta["error"] = err.Error()
	}
	e.opts.Emitter.Emit(end)

	if err != nil {
		return out, faultError(err)
	}
	return out, nil
}

// ReplayStored loads a bug recorded by a previous run from the configured
// store, replays its trace with the fairness of the strategy that found it
// and checks that the same bug is reproduced.
func (e *Engine) ReplayStored(ctx context.Context, runID, signature string) (*ReplayResult, error) {
	if e.opts.Store == nil {
		return nil, &EngineError{Message: "no store configured", Code: "STORE_ERROR"}
	}
	rec, err := e.opts.Store.LoadBug(ctx, runID, signature)
	if err != nil {
		return nil, &EngineError{Message: fmt.Sprintf("failed to load bug %s of run %s", signature, runID), Code: "STORE_ERROR", Err: err}
	}
	t, err := trace.Parse(rec.Trace)
	if err != nil {
		return nil, &EngineError{Message: "stored trace is malformed", Code: "INVALID_TRACE", Err: err}
	}

	res, err := e.replay(ctx, t, rec.Fair)
	if err != nil {
		return res, err
	}
	if res.Bug == nil || Signature(res.Bug.Message) != rec.Signature {
		got := "no bug"
		if res.Bug != nil {
			got = fmt.Sprintf("%q", res.Bug.Message)
		}
		return res, faultError(fmt.Errorf("%w: Trace is not reproducible: expected %q, got %s",
			ErrReplayMismatch, rec.Message, got))
	}
	return res, nil
}

func (e *Engine) persist(ctx context.Context, report *Report) error {
	st := e.opts.Store
	if st == nil {
		return nil
	}
	run := store.RunRecord{
		RunID:        report.RunID,
		Strategy:     report.Strategy,
		Seed:         report.Seed,
		Iterations:   report.Iterations,
		BugCount:     report.BugCount,
		DistinctBugs: len(report.Bugs),
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
	}
	if err := st.SaveRun(ctx, run); err != nil {
		return &EngineError{Message: "failed to save run", Code: "STORE_ERROR", Err: err}
	}
	if len(report.Bugs) == 0 {
		return nil
	}

	bugs := make([]store.BugRecord, 0, len(report.Bugs))
	for _, b := range report.Bugs {
		bugs = append(bugs, store.BugRecord{
			RunID:       report.RunID,
			Signature:   b.Signature,
			Kind:        b.Kind.String(),
			Message:     b.Message,
			Iteration:   b.Iteration,
			Occurrences: b.Count,
			Strategy:    b.Strategy,
			Seed:        b.Seed,
			Fair:        b.Fair,
			Trace:       b.Trace.Tokens(),
			CreatedAt:   report.FinishedAt,
		})
	}
	if bs, ok := st.(store.BatchStore); ok {
		if err := bs.SaveBugs(ctx, bugs); err != nil {
			return &EngineError{Message: "failed to save bugs", Code: "STORE_ERROR", Err: err}
		}
		return nil
	}
	for _, b := range bugs {
		if err := st.SaveBug(ctx, b); err != nil {
			return &EngineError{Message: "failed to save bug " + b.Signature, Code: "STORE_ERROR", Err: err}
		}
	}
	return nil
}

// faultError classifies an iteration fault into an EngineError.
func faultError(err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	code := "STRATEGY_ERROR"
	switch {
	case errors.Is(err, ErrReplayMismatch):
		code = "REPLAY_MISMATCH"
	case errors.Is(err, ErrNondeterministic):
		code = "NONDETERMINISTIC"
	case errors.Is(err, ErrStateCacheCorrupted):
		code = "STATE_CACHE_CORRUPTED"
	case errors.Is(err, ErrUnknownMonitor):
		code = "UNKNOWN_MONITOR"
	case errors.Is(err, ErrInvalidDefinition):
		code = "INVALID_DEFINITION"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = "CANCELLED"
	}
	return &EngineError{Code: code, Err: err}
}

// seedFromRunID derives a stable seed from the first 8 bytes of the SHA-256
// of runID.
func seedFromRunID(runID string) int64 {
	sum := sha256.Sum256([]byte(runID))
	seed := int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// strategyName trims a strategy description to its name for metric labels.
func strategyName(s strategy.Strategy) string {
	d := s.Describe()
	if i := strings.IndexByte(d, '['); i >= 0 {
		return d[:i]
	}
	return d
}

// actorLabel names an actor, or a monitor by its type.
func actorLabel(id ActorID) string {
	if id.IsZero() {
		return id.Type
	}
	return id.String()
}
