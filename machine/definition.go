package machine

import (
	"errors"
	"fmt"
)

// Handler is an action bound to a machine type whose per-instance data is *T.
type Handler[T any] func(c *Context, m *T, ev Event) error

// MachineType is a validated, immutable machine or monitor definition.
type MachineType struct {
	name    string
	monitor bool
	newData func() any
	states  []*StateDescriptor
	byName  map[string]*StateDescriptor
	initial *StateDescriptor
}

// Name returns the type name.
func (mt *MachineType) Name() string { return mt.name }

// IsMonitor reports whether the type describes a monitor.
func (mt *MachineType) IsMonitor() bool { return mt.monitor }

// States returns the states in declaration order.
func (mt *MachineType) States() []*StateDescriptor {
	return append([]*StateDescriptor(nil), mt.states...)
}

// State looks up a state by short name.
func (mt *MachineType) State(name string) (*StateDescriptor, bool) {
	s, ok := mt.byName[name]
	return s, ok
}

// InitialState returns the state every instance starts in.
func (mt *MachineType) InitialState() *StateDescriptor { return mt.initial }

// TypeBuilder accumulates the handler table of a machine type.
//
// Example:
//
//	pong, err := machine.NewType("Pong", func() *Pong { return &Pong{} }).
//	    State("Active").Initial().
//	    On("Hello", (*Pong).onHello).
//	    Build()
type TypeBuilder[T any] struct {
	name    string
	monitor bool
	newData func() *T
	states  []*StateBuilder[T]
}

// NewType starts the definition of an actor type. newData builds the
// per-instance data; nil means new(T).
func NewType[T any](name string, newData func() *T) *TypeBuilder[T] {
	return &TypeBuilder[T]{name: name, newData: newData}
}

// NewMonitor starts the definition of a monitor type.
func NewMonitor[T any](name string, newData func() *T) *TypeBuilder[T] {
	return &TypeBuilder[T]{name: name, monitor: true, newData: newData}
}

// State declares a new state and returns its builder.
func (b *TypeBuilder[T]) State(name string) *StateBuilder[T] {
	sb := &StateBuilder[T]{owner: b, name: name}
	b.states = append(b.states, sb)
	return sb
}

type pendingBinding[T any] struct {
	event   EventType
	kind    bindingKind
	target  string
	handler Handler[T]
}

// StateBuilder declares the bindings of one state. Its methods chain; State
// and Build delegate to the owning TypeBuilder so a whole type can be
// declared in one expression.
type StateBuilder[T any] struct {
	owner       *TypeBuilder[T]
	name        string
	parent      string
	initial     bool
	temperature Temperature
	entry       Handler[T]
	exit        Handler[T]
	bindings    []pendingBinding[T]
	deferred    []EventType
	ignored     []EventType
}

// Initial marks the state as the start state.
func (s *StateBuilder[T]) Initial() *StateBuilder[T] {
	s.initial = true
	return s
}

// Hot tags a monitor state as hot.
func (s *StateBuilder[T]) Hot() *StateBuilder[T] {
	s.temperature = Hot
	return s
}

// Cold tags a monitor state as cold.
func (s *StateBuilder[T]) Cold() *StateBuilder[T] {
	s.temperature = Cold
	return s
}

// Parent makes the state inherit the bindings of the named state.
func (s *StateBuilder[T]) Parent(name string) *StateBuilder[T] {
	s.parent = name
	return s
}

// OnEntry sets the entry action.
func (s *StateBuilder[T]) OnEntry(h Handler[T]) *StateBuilder[T] {
	s.entry = h
	return s
}

// OnExit sets the exit action. Exit actions must not call Raise, Goto, Push
// or Pop.
func (s *StateBuilder[T]) OnExit(h Handler[T]) *StateBuilder[T] {
	s.exit = h
	return s
}

// On binds an action to ev; the machine stays in the state.
func (s *StateBuilder[T]) On(ev EventType, h Handler[T]) *StateBuilder[T] {
	s.bindings = append(s.bindings, pendingBinding[T]{event: ev, kind: bindDo, handler: h})
	return s
}

// Goto binds ev to a transition into target.
func (s *StateBuilder[T]) Goto(ev EventType, target string) *StateBuilder[T] {
	s.bindings = append(s.bindings, pendingBinding[T]{event: ev, kind: bindGoto, target: target})
	return s
}

// Push binds ev to pushing target on top of the current state.
func (s *StateBuilder[T]) Push(ev EventType, target string) *StateBuilder[T] {
	s.bindings = append(s.bindings, pendingBinding[T]{event: ev, kind: bindPush, target: target})
	return s
}

// Defer keeps matching events in the mailbox while this state is active.
func (s *StateBuilder[T]) Defer(evs ...EventType) *StateBuilder[T] {
	s.deferred = append(s.deferred, evs...)
	return s
}

// Ignore drops matching events at dequeue while this state is active.
func (s *StateBuilder[T]) Ignore(evs ...EventType) *StateBuilder[T] {
	s.ignored = append(s.ignored, evs...)
	return s
}

// State declares the next state of the owning type.
func (s *StateBuilder[T]) State(name string) *StateBuilder[T] {
	return s.owner.State(name)
}

// Build validates the owning type.
func (s *StateBuilder[T]) Build() (*MachineType, error) {
	return s.owner.Build()
}

// Build validates the declaration and produces an immutable MachineType.
// All problems are reported together, each wrapping ErrInvalidDefinition.
func (b *TypeBuilder[T]) Build() (*MachineType, error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, b.name, fmt.Sprintf(format, args...)))
	}

	if b.name == "" {
		return nil, fmt.Errorf("%w: machine type name cannot be empty", ErrInvalidDefinition)
	}
	if len(b.states) == 0 {
		fail("no states declared")
	}

	newData := b.newData
	if newData == nil {
		newData = func() *T { return new(T) }
	}
	mt := &MachineType{
		name:    b.name,
		monitor: b.monitor,
		newData: func() any { return newData() },
		byName:  make(map[string]*StateDescriptor, len(b.states)),
	}

	for i, sb := range b.states {
		if sb.name == "" {
			fail("state %d has an empty name", i)
			continue
		}
		if _, dup := mt.byName[sb.name]; dup {
			fail("duplicate state %q", sb.name)
			continue
		}
		sd := &StateDescriptor{
			name:        sb.name,
			qualified:   b.name + "." + sb.name,
			index:       i,
			initial:     sb.initial,
			temperature: sb.temperature,
			entry:       erase(sb.entry),
			exit:        erase(sb.exit),
			handlers:    make(map[EventType]*binding),
			deferred:    make(map[EventType]struct{}),
			ignored:     make(map[EventType]struct{}),
		}
		if sb.initial {
			if mt.initial != nil {
				fail("states %q and %q are both initial", mt.initial.name, sb.name)
			} else {
				mt.initial = sd
			}
		}
		if sb.temperature != TemperatureNone && !b.monitor {
			fail("state %q: only monitor states can be hot or cold", sb.name)
		}
		mt.byName[sb.name] = sd
		mt.states = append(mt.states, sd)
	}
	if len(b.states) > 0 && mt.initial == nil {
		fail("no initial state")
	}

	for _, sb := range b.states {
		sd, ok := mt.byName[sb.name]
		if !ok || sd.index != indexOf(b.states, sb) {
			continue
		}
		if sb.parent != "" {
			p, ok := mt.byName[sb.parent]
			if !ok {
				fail("state %q: unknown parent %q", sb.name, sb.parent)
			} else {
				sd.parent = p
			}
		}
		for _, pb := range sb.bindings {
			if pb.event == "" {
				fail("state %q: binding with empty event type", sb.name)
				continue
			}
			if _, dup := sd.handlers[pb.event]; dup {
				fail("state %q: event %q bound twice", sb.name, pb.event)
				continue
			}
			bd := &binding{kind: pb.kind, action: erase(pb.handler)}
			if pb.kind != bindDo {
				target, ok := mt.byName[pb.target]
				if !ok {
					fail("state %q: %s target %q does not exist", sb.name, pb.kind, pb.target)
					continue
				}
				bd.target = target
			} else if pb.handler == nil {
				fail("state %q: nil handler for event %q", sb.name, pb.event)
				continue
			}
			if pb.kind == bindPush && b.monitor {
				fail("state %q: monitors cannot push states", sb.name)
				continue
			}
			sd.handlers[pb.event] = bd
		}
		for _, ev := range sb.deferred {
			if b.monitor {
				fail("state %q: monitors cannot defer events", sb.name)
				break
			}
			if _, bound := sd.handlers[ev]; bound {
				fail("state %q: event %q is both handled and deferred", sb.name, ev)
				continue
			}
			sd.deferred[ev] = struct{}{}
		}
		for _, ev := range sb.ignored {
			if _, bound := sd.handlers[ev]; bound {
				fail("state %q: event %q is both handled and ignored", sb.name, ev)
				continue
			}
			if _, deferred := sd.deferred[ev]; deferred {
				fail("state %q: event %q is both deferred and ignored", sb.name, ev)
				continue
			}
			sd.ignored[ev] = struct{}{}
		}
	}

	for _, sd := range mt.states {
		seen := map[*StateDescriptor]bool{}
		for p := sd; p != nil; p = p.parent {
			if seen[p] {
				fail("state %q: parent chain forms a cycle", sd.name)
				sd.parent = nil
				break
			}
			seen[p] = true
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return mt, nil
}

func indexOf[T any](states []*StateBuilder[T], sb *StateBuilder[T]) int {
	for i, s := range states {
		if s == sb {
			return i
		}
	}
	return -1
}

func erase[T any](h Handler[T]) action {
	if h == nil {
		return nil
	}
	return func(c *Context, data any, ev Event) error {
		return h(c, data.(*T), ev)
	}
}
