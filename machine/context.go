package machine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
)

type transitionKind int

const (
	transNone transitionKind = iota
	transRaise
	transGoto
	transPush
	transPop
)

type transition struct {
	kind   transitionKind
	event  Event
	target *StateDescriptor
}

// Context is handed to every action. It is only valid for the duration of
// the action it was passed to.
//
// An action may call at most one of Raise, Goto, Push, Pop or Halt, and
// must not call any other operation with side effects afterwards.
type Context struct {
	rt        *Runtime
	a         *actor
	ev        Event
	inExit    bool
	pending   transition
	receiving bool
}

func (c *Context) kindName() string {
	if c.a.mt.monitor {
		return "Monitor"
	}
	return "Machine"
}

// ID returns the identity of the running actor.
func (c *Context) ID() ActorID { return c.a.id }

// Event returns the event that triggered the action.
func (c *Context) Event() Event { return c.ev }

// CurrentState returns the short name of the state on top of the stack.
func (c *Context) CurrentState() string {
	if s := c.a.top(); s != nil {
		return s.name
	}
	return ""
}

// Logger returns the diagnostics logger annotated with the actor identity.
func (c *Context) Logger() *slog.Logger {
	return c.rt.logger.With("actor", c.a.id.String())
}

func (c *Context) checkCall(api string) {
	if c.pending.kind != transNone {
		c.rt.reportBug(BugCallAfterTransition, c.a.id,
			"%s '%s' cannot call '%s' after calling raise, goto, push or pop in the same action.",
			c.kindName(), c.a.id, api)
	}
	if c.receiving {
		c.rt.reportBug(BugCallAfterTransition, c.a.id,
			"%s '%s' cannot call '%s' after calling receive in the same action.", c.kindName(), c.a.id, api)
	}
}

func (c *Context) monitorForbidden(api string) {
	if c.a.mt.monitor {
		c.rt.reportBug(BugInvalidOperation, c.a.id, "Monitor '%s' cannot call '%s'.", c.a.mt.name, api)
	}
}

func (c *Context) setTransition(tr transition) {
	if c.inExit {
		c.rt.reportBug(BugTransitionInExit, c.a.id,
			"%s '%s' has called raise, goto, push or pop inside an OnExit method.", c.kindName(), c.a.id)
	}
	if c.receiving {
		c.rt.reportBug(BugCallAfterTransition, c.a.id,
			"%s '%s' cannot call raise, goto, push or pop after calling receive in the same action.", c.kindName(), c.a.id)
	}
	if c.pending.kind != transNone {
		c.rt.reportBug(BugMultipleTransitions, c.a.id,
			"%s '%s' has called multiple raise, goto, push or pop in the same action.", c.kindName(), c.a.id)
	}
	c.pending = tr
}

func (c *Context) state(name string) *StateDescriptor {
	s, ok := c.a.mt.byName[name]
	if !ok {
		c.rt.reportBug(BugInvalidOperation, c.a.id, "%s '%s' cannot transition to unknown state '%s'.",
			c.kindName(), c.a.id, name)
	}
	return s
}

// Raise handles ev immediately after the action returns, before any mailbox
// event.
func (c *Context) Raise(ev Event) {
	c.setTransition(transition{kind: transRaise, event: ev})
}

// Goto exits the current state and replaces it with the named state once
// the action returns.
func (c *Context) Goto(state string) {
	c.setTransition(transition{kind: transGoto, target: c.state(state)})
}

// Push enters the named state on top of the current one once the action
// returns.
func (c *Context) Push(state string) {
	c.monitorForbidden("Push")
	c.setTransition(transition{kind: transPush, target: c.state(state)})
}

// Pop exits the current state and returns to the one below it.
func (c *Context) Pop() {
	c.monitorForbidden("Pop")
	c.setTransition(transition{kind: transPop})
}

// Halt raises the halt event; unless a state binds it the actor halts.
func (c *Context) Halt() {
	c.monitorForbidden("Halt")
	c.Raise(Event{Type: EventHalt})
}

// Send enqueues ev at the tail of target's mailbox. It never blocks.
func (c *Context) Send(target ActorID, ev Event) {
	c.monitorForbidden("Send")
	c.checkCall("Send")
	c.rt.send(c.a, target, ev)
}

// CreateMachine creates a new actor. A zero ev means no initial event.
func (c *Context) CreateMachine(mt *MachineType, ev Event) ActorID {
	c.monitorForbidden("CreateMachine")
	c.checkCall("CreateMachine")
	return c.rt.create(c.a, mt, ev)
}

// Receive suspends the actor until an event of one of the given types is in
// its mailbox, then runs fn with the first such event. Receive must be the
// last call of the action.
func (c *Context) Receive(fn ReceiveFunc, types ...EventType) {
	c.monitorForbidden("Receive")
	c.checkCall("Receive")
	if fn == nil || len(types) == 0 {
		c.rt.reportBug(BugInvalidOperation, c.a.id, "Machine '%s' called receive without a handler or event types.", c.a.id)
	}
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	c.a.waiting = set
	c.a.resume = fn
	c.receiving = true
}

// RandomBool returns a controlled nondeterministic boolean.
func (c *Context) RandomBool() bool {
	c.monitorForbidden("RandomBool")
	c.checkCall("RandomBool")
	return c.rt.randomBool(2)
}

// RandomInt returns a controlled nondeterministic integer in [0, n).
func (c *Context) RandomInt(n int) int {
	c.monitorForbidden("RandomInt")
	c.checkCall("RandomInt")
	return c.rt.randomInt(n)
}

// FairRandom returns a boolean choice that a fair execution resolves both
// ways infinitely often. Choices are keyed by call site and actor.
func (c *Context) FairRandom() bool {
	c.monitorForbidden("FairRandom")
	c.checkCall("FairRandom")
	_, file, line, _ := runtime.Caller(1)
	site := fmt.Sprintf("%s:%d@%d", filepath.Base(file), line, c.a.id.Value)
	return c.rt.fairBool(site)
}

// Assert reports a bug when cond is false.
func (c *Context) Assert(cond bool, format string, args ...any) {
	if !cond {
		c.rt.reportBug(BugAssertion, c.a.id, format, args...)
	}
}

// Monitor delivers ev synchronously to the named monitor.
func (c *Context) Monitor(name string, ev Event) {
	c.monitorForbidden("Monitor")
	c.checkCall("Monitor")
	c.rt.invokeMonitor(name, ev)
}
