package machine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/actorcheck-go/machine/emit"
)

// TestFunc is the harness of a test. It runs once at the start of every
// iteration and typically registers monitors and creates the first actors.
type TestFunc func(rt *Runtime)

// Runtime is the per-iteration execution context. A fresh Runtime is built
// for every iteration; nothing survives between iterations.
type Runtime struct {
	ctx       context.Context
	runID     string
	iteration int
	sched     *scheduler
	logger    *slog.Logger
	emitter   emit.Emitter
	coverage  *Coverage
	cache     *StateCache
	liveness  *livenessChecker

	checkLiveness bool
	threshold     int

	actors        []*actor
	byID          map[uint64]*actor
	monitors      []*actor
	monitorByName map[string]*actor
	nextID        uint64

	fingerprints []uint64
	bug          *Bug
	fault        error
	assumed      bool
	exhausted    bool
}

// CreateMachine creates an actor from the harness. A zero ev means no
// initial event.
func (rt *Runtime) CreateMachine(mt *MachineType, ev Event) ActorID {
	return rt.create(nil, mt, ev)
}

// SendEvent enqueues ev for target from the harness.
func (rt *Runtime) SendEvent(target ActorID, ev Event) {
	rt.send(nil, target, ev)
}

// RegisterMonitor instantiates a monitor and runs its initial entry action.
func (rt *Runtime) RegisterMonitor(mt *MachineType) {
	if mt == nil || !mt.monitor {
		panic(engineFault{fmt.Errorf("%w: RegisterMonitor requires a monitor type", ErrInvalidDefinition)})
	}
	if _, dup := rt.monitorByName[mt.name]; dup {
		panic(engineFault{fmt.Errorf("%w: monitor %q registered twice", ErrInvalidDefinition, mt.name)})
	}
	m := newActor(ActorID{Type: mt.name}, mt, Event{})
	m.started = true
	m.stack = []*StateDescriptor{mt.initial}
	rt.monitors = append(rt.monitors, m)
	rt.monitorByName[mt.name] = m
	rt.enter(m, mt.initial, Event{})
	rt.drainRaised(m)
}

// Monitor delivers ev synchronously to the named monitor.
func (rt *Runtime) Monitor(name string, ev Event) {
	rt.invokeMonitor(name, ev)
}

// Assert reports a bug when cond is false.
func (rt *Runtime) Assert(cond bool, format string, args ...any) {
	if !cond {
		rt.reportBug(BugAssertion, ActorID{}, format, args...)
	}
}

// RandomBool returns a controlled nondeterministic boolean.
func (rt *Runtime) RandomBool() bool {
	return rt.randomBool(2)
}

// RandomInt returns a controlled nondeterministic integer in [0, n).
func (rt *Runtime) RandomInt(n int) int {
	return rt.randomInt(n)
}

// Logger returns the diagnostics logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Iteration returns the 1-based iteration number.
func (rt *Runtime) Iteration() int {
	return rt.iteration
}

func (rt *Runtime) reportBug(kind BugKind, who ActorID, format string, args ...any) {
	rt.recordBug(kind, who, fmt.Sprintf(format, args...))
	panic(abortSignal{})
}

func (rt *Runtime) recordBug(kind BugKind, who ActorID, msg string) {
	if rt.bug != nil {
		return
	}
	rt.bug = &Bug{
		Kind:      kind,
		Message:   msg,
		Actor:     who,
		Iteration: rt.iteration,
		Trace:     rt.sched.trace,
	}
}

// guard runs fn and converts any unwinding into the iteration outcome. It
// returns false when the iteration must stop.
func (rt *Runtime) guard(who ActorID, fn func()) (ok bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ok = false
		switch v := r.(type) {
		case abortSignal:
		case assumeSignal:
			rt.assumed = true
		case engineFault:
			rt.fault = v.err
		default:
			if who.IsZero() {
				rt.recordBug(BugPanic, who, fmt.Sprintf("Test harness panicked: %v", r))
			} else {
				rt.recordBug(BugPanic, who, fmt.Sprintf("Machine '%s' panicked: %v", who, r))
			}
		}
	}()
	fn()
	return true
}

func (rt *Runtime) run(test TestFunc) {
	if !rt.guard(ActorID{}, func() { test(rt) }) {
		return
	}
	rt.schedule()
}

// schedule runs scheduling steps until the program terminates, a bug is
// found, the budget runs out or the engine faults.
func (rt *Runtime) schedule() {
	for {
		if err := rt.ctx.Err(); err != nil {
			rt.fault = err
			return
		}

		enabled := rt.enabledIDs()
		if len(enabled) == 0 {
			if waiting := rt.waitingIDs(); len(waiting) > 0 {
				rt.recordBug(BugLivelock, waiting[0], livelockMessage(waiting))
				return
			}
			rt.checkHotAtTermination()
			return
		}
		if rt.sched.budgetExhausted() {
			rt.exhausted = true
			rt.logger.Debug("scheduling budget exhausted",
				"iteration", rt.iteration, "steps", rt.sched.steps)
			return
		}

		fp := rt.fingerprint()
		rt.fingerprints = append(rt.fingerprints, fp)

		id, err := rt.sched.nextActor(enabled)
		if err != nil {
			rt.fault = err
			return
		}
		rt.emitStep(id, len(enabled))
		if rt.cache != nil {
			idx, err := rt.cache.push(cacheEntry{
				Fingerprint: fp,
				Step:        rt.sched.trace.Len() - 1,
				Scheduled:   id,
				Enabled:     enabled,
				Hot:         rt.hotMonitors(),
			})
			if err != nil {
				rt.fault = err
				return
			}
			if rt.liveness != nil {
				monitor, found, err := rt.liveness.check(rt.cache, idx, rt.emitCycle)
				if err != nil {
					rt.fault = err
					return
				}
				if found {
					rt.recordBug(BugLiveness, ActorID{Type: monitor},
						fmt.Sprintf("Monitor '%s' detected infinite execution that violates a liveness property.", monitor))
					return
				}
			}
		}

		a, ok := rt.byID[id]
		if !ok {
			rt.fault = fmt.Errorf("%w: strategy scheduled unknown actor %d", ErrStateCacheCorrupted, id)
			return
		}
		if !rt.guard(a.id, func() { rt.step(a) }) {
			return
		}
		if rt.checkTemperature() {
			return
		}
	}
}

func (rt *Runtime) enabledIDs() []uint64 {
	var out []uint64
	for _, a := range rt.actors {
		if a.status() == StatusEnabled {
			out = append(out, a.id.Value)
		}
	}
	return out
}

func (rt *Runtime) waitingIDs() []ActorID {
	var out []ActorID
	for _, a := range rt.actors {
		if a.status() == StatusWaiting {
			out = append(out, a.id)
		}
	}
	return out
}

func livelockMessage(ids []ActorID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = "'" + id.String() + "'"
	}
	var who string
	if len(names) == 1 {
		who = names[0] + " is"
	} else {
		who = strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1] + " are"
	}
	return fmt.Sprintf("Livelock detected. %s waiting for an event, but no other schedulable choices are enabled.", who)
}

func (rt *Runtime) hotMonitors() []string {
	var hot []string
	for _, m := range rt.monitors {
		if s := m.top(); s != nil && s.temperature == Hot {
			hot = append(hot, m.mt.name)
		}
	}
	return hot
}

func (rt *Runtime) checkHotAtTermination() {
	if !rt.checkLiveness {
		return
	}
	for _, m := range rt.monitors {
		if s := m.top(); s != nil && s.temperature == Hot {
			rt.recordBug(BugLiveness, m.id, fmt.Sprintf(
				"Monitor '%s' detected liveness bug in hot state '%s' at the end of program execution.",
				m.mt.name, s.name))
			return
		}
	}
}

// checkTemperature reports a potential liveness bug when a monitor stays
// hot longer than the threshold under a fair strategy.
func (rt *Runtime) checkTemperature() bool {
	for _, m := range rt.monitors {
		s := m.top()
		if s == nil || s.temperature != Hot {
			m.hotSteps = 0
			continue
		}
		m.hotSteps++
		if rt.checkLiveness && rt.threshold > 0 && rt.sched.fair() && m.hotSteps > rt.threshold {
			rt.recordBug(BugLiveness, m.id, fmt.Sprintf(
				"Monitor '%s' detected potential liveness bug in hot state '%s'.", m.mt.name, s.name))
			return true
		}
	}
	return false
}

func (rt *Runtime) create(from *actor, mt *MachineType, ev Event) ActorID {
	if mt == nil || mt.monitor {
		panic(engineFault{fmt.Errorf("%w: CreateMachine requires a machine type", ErrInvalidDefinition)})
	}
	rt.nextID++
	id := ActorID{Value: rt.nextID, Type: mt.name}
	a := newActor(id, mt, ev)
	rt.actors = append(rt.actors, a)
	rt.byID[id.Value] = a
	creator := "harness"
	if from != nil {
		creator = from.id.String()
	}
	rt.logger.Debug("machine created", "actor", id.String(), "creator", creator)
	return id
}

func (rt *Runtime) send(from *actor, target ActorID, ev Event) {
	var sender ActorID
	if from != nil {
		sender = from.id
	}
	if ev.IsZero() {
		rt.reportBug(BugInvalidOperation, sender, "Cannot send an event without a type to '%s'.", target)
	}
	t, ok := rt.byID[target.Value]
	if !ok {
		rt.reportBug(BugInvalidOperation, sender,
			"Cannot send event '%s' to machine '%s' that was never created.", ev.Type, target)
	}
	if t.halted {
		rt.logger.Debug("event dropped by halted machine", "actor", t.id.String(), "event", string(ev.Type))
		return
	}
	t.inbox = append(t.inbox, ev)
	if ev.AssertBound > 0 && t.countInbox(ev.Type) > ev.AssertBound {
		rt.reportBug(BugEventBound, t.id,
			"There are more than %d instances of '%s' in the input queue of machine '%s'.",
			ev.AssertBound, ev.Type, t.id)
	}
	if ev.AssumeBound > 0 && t.countInbox(ev.Type) > ev.AssumeBound {
		rt.logger.Debug("assumption violated", "actor", t.id.String(), "event", string(ev.Type))
		panic(assumeSignal{})
	}
}

func (rt *Runtime) invokeMonitor(name string, ev Event) {
	m, ok := rt.monitorByName[name]
	if !ok {
		panic(engineFault{fmt.Errorf("%w: %s", ErrUnknownMonitor, name)})
	}
	rt.handleEvent(m, ev)
	rt.drainRaised(m)
}

func (rt *Runtime) randomBool(max int) bool {
	v, err := rt.sched.nextBool(max)
	if err != nil {
		panic(engineFault{err})
	}
	rt.pushChoice(cacheEntry{})
	return v
}

func (rt *Runtime) randomInt(n int) int {
	v, err := rt.sched.nextInt(n)
	if err != nil {
		panic(engineFault{err})
	}
	rt.pushChoice(cacheEntry{})
	return v
}

func (rt *Runtime) fairBool(site string) bool {
	v, err := rt.sched.nextFair(site)
	if err != nil {
		panic(engineFault{err})
	}
	rt.pushChoice(cacheEntry{FairID: site, FairValue: v})
	return v
}

func (rt *Runtime) pushChoice(e cacheEntry) {
	if rt.cache == nil {
		return
	}
	e.Step = rt.sched.trace.Len() - 1
	e.Choice = true
	if _, err := rt.cache.push(e); err != nil {
		panic(engineFault{err})
	}
}

// step runs one scheduling step of a: its start, a resumed receive, or one
// dequeued event, each followed by every event it raises.
func (rt *Runtime) step(a *actor) {
	switch {
	case !a.started:
		a.started = true
		a.stack = []*StateDescriptor{a.mt.initial}
		rt.enter(a, a.mt.initial, a.initEvent)
	case a.waiting != nil:
		ev, ok := a.takeMatch()
		if !ok {
			return
		}
		fn := a.resume
		a.waiting, a.resume = nil, nil
		c := &Context{rt: rt, a: a, ev: ev}
		if err := fn(c, ev); err != nil {
			rt.actionFailed(a, ev, err)
		}
		rt.apply(a, c.pending, ev)
	default:
		ev, ok := a.dequeue()
		if !ok {
			return
		}
		rt.handleEvent(a, ev)
	}
	rt.drainRaised(a)
}

func (rt *Runtime) drainRaised(a *actor) {
	for a.raised != nil && !a.halted {
		ev := *a.raised
		a.raised = nil
		rt.handleEvent(a, ev)
	}
}

func (rt *Runtime) handleEvent(a *actor, ev Event) {
	for {
		d, b, level := a.classify(ev.Type)
		switch d {
		case dispHandle:
			state := a.stack[level]
			rt.coverage.handled(a.mt, state, ev.Type)
			rt.emitHandled(a, state, ev)
			switch b.kind {
			case bindDo:
				rt.apply(a, rt.invoke(a, b.action, ev, false), ev)
			case bindGoto:
				rt.unwindTo(a, level, ev)
				rt.gotoState(a, b.target, ev)
			case bindPush:
				rt.unwindTo(a, level, ev)
				rt.pushState(a, b.target, ev)
			}
			return
		case dispIgnore:
			return
		}

		if len(a.stack) > 1 {
			rt.exitTop(a, ev)
			a.stack = a.stack[:len(a.stack)-1]
			continue
		}
		if ev.Type == EventHalt && !a.mt.monitor {
			rt.logger.Debug("machine halted", "actor", a.id.String())
			a.halt()
			return
		}
		if a.mt.monitor {
			rt.reportBug(BugUnhandledEvent, a.id, "Monitor '%s' received event '%s' that cannot be handled.", a.mt.name, ev.Type)
		}
		rt.reportBug(BugUnhandledEvent, a.id, "Machine '%s' received event '%s' that cannot be handled.", a.id, ev.Type)
	}
}

func (rt *Runtime) invoke(a *actor, act action, ev Event, exit bool) transition {
	if act == nil {
		return transition{}
	}
	c := &Context{rt: rt, a: a, ev: ev, inExit: exit}
	if err := act(c, a.data, ev); err != nil {
		rt.actionFailed(a, ev, err)
	}
	return c.pending
}

func (rt *Runtime) actionFailed(a *actor, ev Event, err error) {
	state := ""
	if s := a.top(); s != nil {
		state = s.name
	}
	kind := "Machine"
	name := a.id.String()
	if a.mt.monitor {
		kind, name = "Monitor", a.mt.name
	}
	rt.reportBug(BugActionError, a.id, "%s '%s' failed handling '%s' in state '%s': %v", kind, name, ev.Type, state, err)
}

func (rt *Runtime) apply(a *actor, tr transition, ev Event) {
	switch tr.kind {
	case transRaise:
		raised := tr.event
		a.raised = &raised
	case transGoto:
		rt.gotoState(a, tr.target, ev)
	case transPush:
		rt.pushState(a, tr.target, ev)
	case transPop:
		if len(a.stack) <= 1 {
			rt.reportBug(BugUnbalancedPop, a.id, "Machine '%s' popped with no matching push.", a.id)
		}
		rt.exitTop(a, ev)
		a.stack = a.stack[:len(a.stack)-1]
	}
}

func (rt *Runtime) enter(a *actor, s *StateDescriptor, ev Event) {
	rt.coverage.visited(a.mt, s)
	rt.apply(a, rt.invoke(a, s.entry, ev, false), ev)
}

func (rt *Runtime) exitTop(a *actor, ev Event) {
	if s := a.top(); s != nil {
		rt.invoke(a, s.exit, ev, true)
	}
}

func (rt *Runtime) gotoState(a *actor, target *StateDescriptor, ev Event) {
	rt.exitTop(a, ev)
	a.stack[len(a.stack)-1] = target
	rt.enter(a, target, ev)
}

func (rt *Runtime) pushState(a *actor, target *StateDescriptor, ev Event) {
	a.stack = append(a.stack, target)
	rt.enter(a, target, ev)
}

// unwindTo exits and pops every state above level.
func (rt *Runtime) unwindTo(a *actor, level int, ev Event) {
	for len(a.stack)-1 > level {
		rt.exitTop(a, ev)
		a.stack = a.stack[:len(a.stack)-1]
	}
}

func (rt *Runtime) emitHandled(a *actor, s *StateDescriptor, ev Event) {
	if rt.emitter == nil {
		return
	}
	rt.emitter.Emit(emit.Event{
		RunID:     rt.runID,
		Iteration: rt.iteration,
		Step:      rt.sched.steps,
		ActorID:   a.id.String(),
		Msg:       "event_handled",
		Meta: map[string]interface{}{
			"event": string(ev.Type),
			"state": s.qualified,
		},
	})
}

func (rt *Runtime) emitStep(id uint64, enabled int) {
	if rt.emitter == nil {
		return
	}
	var who string
	if a, ok := rt.byID[id]; ok {
		who = a.id.String()
	}
	rt.emitter.Emit(emit.Event{
		RunID:     rt.runID,
		Iteration: rt.iteration,
		Step:      rt.sched.steps,
		ActorID:   who,
		Msg:       "step",
		Meta: map[string]interface{}{
			"trace_index": rt.sched.trace.Len() - 1,
			"enabled":     enabled,
		},
	})
}

func (rt *Runtime) emitCycle(v cycleVerdict) {
	if rt.emitter == nil {
		return
	}
	rt.emitter.Emit(emit.Event{
		RunID:     rt.runID,
		Iteration: rt.iteration,
		Step:      rt.sched.steps,
		ActorID:   v.Monitor,
		Msg:       "cycle_detected",
		Meta: map[string]interface{}{
			"verdict": v.Verdict,
			"monitor": v.Monitor,
			"length":  v.Length,
		},
	})
}
