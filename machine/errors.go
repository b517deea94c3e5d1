package machine

import (
	"errors"

	"github.com/dshills/actorcheck-go/machine/strategy"
	"github.com/dshills/actorcheck-go/machine/trace"
)

// ErrReplayMismatch indicates that a replayed execution diverged from its
// trace. The program is nondeterministic outside scheduler control.
var ErrReplayMismatch = strategy.ErrReplayMismatch

// ErrNondeterministic indicates that a systematic strategy saw a different
// set of choices under a schedule prefix it had already explored.
var ErrNondeterministic = strategy.ErrNondeterministic

// ErrStateCacheCorrupted indicates an internal inconsistency in the state
// cache used for cycle detection.
var ErrStateCacheCorrupted = errors.New("state cache corrupted")

// ErrInvalidDefinition wraps every machine-type validation failure.
var ErrInvalidDefinition = errors.New("invalid machine definition")

// ErrUnknownMonitor is returned when an event is sent to a monitor that was
// never registered.
var ErrUnknownMonitor = errors.New("unknown monitor")

// ErrStrategyOutOfStep indicates that a strategy's own decision count no
// longer matches the trace, typically because the same instance is driven by
// two runs at once.
var ErrStrategyOutOfStep = errors.New("strategy out of step with the trace")

// ErrNoTest indicates that an engine was constructed without a test function.
var ErrNoTest = errors.New("no test function")

// EngineError represents an error from Engine operations. Engine errors abort
// the whole run, unlike bugs which only end the current iteration.
type EngineError struct {
	Message string
	Code    string
	Err     error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// BugKind classifies a detected program defect.
type BugKind int

const (
	BugAssertion BugKind = iota + 1
	BugUnhandledEvent
	BugMultipleTransitions
	BugTransitionInExit
	BugCallAfterTransition
	BugUnbalancedPop
	BugLivelock
	BugLiveness
	BugActionError
	BugPanic
	BugEventBound
	BugInvalidOperation
)

var bugKindNames = map[BugKind]string{
	BugAssertion:           "assertion",
	BugUnhandledEvent:      "unhandled_event",
	BugMultipleTransitions: "multiple_transitions",
	BugTransitionInExit:    "transition_in_exit",
	BugCallAfterTransition: "call_after_transition",
	BugUnbalancedPop:       "unbalanced_pop",
	BugLivelock:            "livelock",
	BugLiveness:            "liveness",
	BugActionError:         "action_error",
	BugPanic:               "panic",
	BugEventBound:          "event_bound",
	BugInvalidOperation:    "invalid_operation",
}

func (k BugKind) String() string {
	if s, ok := bugKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseBugKind is the inverse of BugKind.String.
func ParseBugKind(s string) (BugKind, bool) {
	for k, name := range bugKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Bug is a defect found in the program under test. It ends the iteration in
// which it was found and carries the trace that reproduces it.
type Bug struct {
	Kind      BugKind
	Message   string
	Actor     ActorID
	Iteration int
	Trace     *trace.Trace
}

func (b *Bug) Error() string { return b.Message }

// abortSignal unwinds the current iteration after a bug was recorded.
type abortSignal struct{}

// assumeSignal unwinds the current iteration after a violated assumption.
type assumeSignal struct{}

// engineFault unwinds the current iteration with a fatal engine error.
type engineFault struct{ err error }
