package machine

import (
	"fmt"
	"sort"
)

// ActorID identifies an actor within one iteration. Values start at 1 and
// increase monotonically in creation order.
type ActorID struct {
	Value uint64
	Type  string
}

func (id ActorID) String() string {
	return fmt.Sprintf("%s(%d)", id.Type, id.Value)
}

// IsZero reports whether id refers to no actor.
func (id ActorID) IsZero() bool { return id.Value == 0 }

// Status is the scheduling status of an actor.
type Status int

const (
	StatusEnabled Status = iota
	StatusWaiting
	StatusHalted
	// StatusBlocked means the actor is neither halted nor waiting but has no
	// event it can dequeue.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusWaiting:
		return "waiting"
	case StatusHalted:
		return "halted"
	default:
		return "blocked"
	}
}

// ReceiveFunc continues an action once an awaited event arrives.
type ReceiveFunc func(c *Context, ev Event) error

// actor is one running instance of a MachineType. Monitors use the same
// representation without a mailbox.
type actor struct {
	id        ActorID
	mt        *MachineType
	data      any
	stack     []*StateDescriptor
	inbox     []Event
	raised    *Event
	started   bool
	initEvent Event
	halted    bool

	waiting map[EventType]struct{}
	resume  ReceiveFunc

	// hotSteps counts consecutive scheduling steps a monitor spent hot.
	hotSteps int
}

func newActor(id ActorID, mt *MachineType, initial Event) *actor {
	return &actor{id: id, mt: mt, data: mt.newData(), initEvent: initial}
}

func (a *actor) top() *StateDescriptor {
	if len(a.stack) == 0 {
		return nil
	}
	return a.stack[len(a.stack)-1]
}

// classify resolves t against the whole stack, top first. Pushed states
// inherit the bindings of the states below them.
func (a *actor) classify(t EventType) (disposition, *binding, int) {
	for i := len(a.stack) - 1; i >= 0; i-- {
		if d, b := a.stack[i].classify(t); d != dispNone {
			return d, b, i
		}
	}
	return dispNone, nil, -1
}

func (a *actor) status() Status {
	switch {
	case a.halted:
		return StatusHalted
	case a.waiting != nil:
		if a.matchIndex() >= 0 {
			return StatusEnabled
		}
		return StatusWaiting
	case !a.started, a.raised != nil, a.canDequeue():
		return StatusEnabled
	default:
		return StatusBlocked
	}
}

func (a *actor) matchIndex() int {
	for i, ev := range a.inbox {
		if _, ok := a.waiting[ev.Type]; ok {
			return i
		}
	}
	return -1
}

func (a *actor) canDequeue() bool {
	for _, ev := range a.inbox {
		if d, _, _ := a.classify(ev.Type); d != dispDefer && d != dispIgnore {
			return true
		}
	}
	d, _, _ := a.classify(EventDefault)
	return d == dispHandle
}

// dequeue removes the first event that is neither deferred nor ignored,
// dropping ignored events it passes. It falls back to the default event.
func (a *actor) dequeue() (Event, bool) {
	for i := 0; i < len(a.inbox); {
		ev := a.inbox[i]
		switch d, _, _ := a.classify(ev.Type); d {
		case dispIgnore:
			a.inbox = append(a.inbox[:i], a.inbox[i+1:]...)
		case dispDefer:
			i++
		default:
			a.inbox = append(a.inbox[:i], a.inbox[i+1:]...)
			return ev, true
		}
	}
	if d, _, _ := a.classify(EventDefault); d == dispHandle {
		return Event{Type: EventDefault}, true
	}
	return Event{}, false
}

// takeMatch removes and returns the first inbox event in the awaited set.
func (a *actor) takeMatch() (Event, bool) {
	i := a.matchIndex()
	if i < 0 {
		return Event{}, false
	}
	ev := a.inbox[i]
	a.inbox = append(a.inbox[:i], a.inbox[i+1:]...)
	return ev, true
}

func (a *actor) countInbox(t EventType) int {
	n := 0
	for _, ev := range a.inbox {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (a *actor) halt() {
	a.halted = true
	a.inbox = nil
	a.stack = nil
	a.data = nil
	a.raised = nil
	a.waiting = nil
	a.resume = nil
}

func (a *actor) waitingTypes() []string {
	out := make([]string, 0, len(a.waiting))
	for t := range a.waiting {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
