package machine

// Temperature is the liveness tag of a monitor state.
type Temperature int

const (
	// TemperatureNone marks an ordinary state.
	TemperatureNone Temperature = iota
	// Hot marks a state in which the monitor waits for progress.
	Hot
	// Cold marks a state in which the monitored property holds.
	Cold
)

func (t Temperature) String() string {
	switch t {
	case Hot:
		return "hot"
	case Cold:
		return "cold"
	default:
		return "none"
	}
}

type bindingKind int

const (
	bindDo bindingKind = iota
	bindGoto
	bindPush
)

func (k bindingKind) String() string {
	switch k {
	case bindGoto:
		return "goto"
	case bindPush:
		return "push"
	default:
		return "do"
	}
}

// action is a type-erased handler bound to a machine's user data.
type action func(c *Context, data any, ev Event) error

type binding struct {
	kind   bindingKind
	action action
	target *StateDescriptor
}

type disposition int

const (
	dispNone disposition = iota
	dispHandle
	dispDefer
	dispIgnore
)

// StateDescriptor is the immutable description of one state of a machine
// type. It is derived once from the builder and shared by every instance.
type StateDescriptor struct {
	name        string
	qualified   string
	index       int
	parent      *StateDescriptor
	initial     bool
	temperature Temperature

	entry    action
	exit     action
	handlers map[EventType]*binding
	deferred map[EventType]struct{}
	ignored  map[EventType]struct{}
}

// Name returns the state's short name.
func (s *StateDescriptor) Name() string { return s.name }

// QualifiedName returns Type.State.
func (s *StateDescriptor) QualifiedName() string { return s.qualified }

// Parent returns the state whose bindings this state inherits, or nil.
func (s *StateDescriptor) Parent() *StateDescriptor { return s.parent }

// IsInitial reports whether instances start in this state.
func (s *StateDescriptor) IsInitial() bool { return s.initial }

// Temperature returns the liveness tag of the state.
func (s *StateDescriptor) Temperature() Temperature { return s.temperature }

// Handles reports whether the state or one of its ancestors binds t.
func (s *StateDescriptor) Handles(t EventType) bool {
	_, b := s.classify(t)
	return b != nil
}

func (s *StateDescriptor) String() string { return s.qualified }

// classify walks the parent chain. At each level a handler wins over a
// deferral, which wins over an ignore; exact bindings win over wildcards.
func (s *StateDescriptor) classify(t EventType) (disposition, *binding) {
	for st := s; st != nil; st = st.parent {
		if d, b := st.classifyOwn(t); d != dispNone {
			return d, b
		}
	}
	return dispNone, nil
}

func (s *StateDescriptor) classifyOwn(t EventType) (disposition, *binding) {
	if b, ok := s.handlers[t]; ok {
		return dispHandle, b
	}
	if _, ok := s.deferred[t]; ok {
		return dispDefer, nil
	}
	if _, ok := s.ignored[t]; ok {
		return dispIgnore, nil
	}
	if !t.matchesWildcard() {
		return dispNone, nil
	}
	if b, ok := s.handlers[EventWildcard]; ok {
		return dispHandle, b
	}
	if _, ok := s.deferred[EventWildcard]; ok {
		return dispDefer, nil
	}
	if _, ok := s.ignored[EventWildcard]; ok {
		return dispIgnore, nil
	}
	return dispNone, nil
}
