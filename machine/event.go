// Package machine provides the actor execution model and the systematic
// testing engine for actorcheck-go.
package machine

import "fmt"

// EventType names an event. Handlers are bound per (state, EventType).
type EventType string

// Built-in event types.
const (
	// EventHalt halts the receiving actor when no state on its stack binds it.
	EventHalt EventType = "halt"

	// EventDefault is dispatched when the mailbox holds nothing dequeueable
	// and the current state binds it.
	EventDefault EventType = "default"

	// EventWildcard in a binding matches any event type other than the
	// built-in halt and default events.
	EventWildcard EventType = "*"
)

// Event is an immutable message delivered to an actor or monitor.
//
// AssertBound and AssumeBound limit how many events of this type may sit in
// the receiver's mailbox once this one is enqueued. Exceeding AssertBound is
// a bug; exceeding AssumeBound silently ends the iteration. Zero means
// unbounded.
type Event struct {
	Type        EventType
	Payload     any
	AssertBound int
	AssumeBound int
}

// NewEvent returns an event of type t carrying payload.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload}
}

// WithAssertBound returns a copy of e with the given assert bound.
func (e Event) WithAssertBound(n int) Event {
	e.AssertBound = n
	return e
}

// WithAssumeBound returns a copy of e with the given assume bound.
func (e Event) WithAssumeBound(n int) Event {
	e.AssumeBound = n
	return e
}

// IsZero reports whether e is the zero event, used for "no event".
func (e Event) IsZero() bool {
	return e.Type == ""
}

func (e Event) String() string {
	if e.Payload == nil {
		return string(e.Type)
	}
	return fmt.Sprintf("%s(%v)", e.Type, e.Payload)
}

func (t EventType) matchesWildcard() bool {
	return t != EventHalt && t != EventDefault
}
