package emit

// Event is one observation from an exploration run.
//
// Messages emitted by the engine:
//   - run_start, run_end: once per exploration
//   - iteration_start, iteration_end: once per iteration
//   - event_handled: an actor handled an event (Meta: event, state)
//   - budget_exhausted: the step bound ended an iteration
//   - bug_found: an iteration ended in a bug (Meta: kind, message, signature)
//   - replay_start, replay_end: trace replay
type Event struct {
	// RunID identifies the exploration run.
	RunID string

	// Iteration is the 1-based iteration number; 0 for run-level events.
	Iteration int

	// Step is the scheduling step within the iteration.
	Step int

	// ActorID names the actor involved, e.g. "Server(2)". Empty for
	// run-level and iteration-level events.
	ActorID string

	// Msg is the event name.
	Msg string

	// Meta carries event-specific data.
	Meta map[string]interface{}
}

// HasError reports whether the event carries an "error" entry.
func (e Event) HasError() bool {
	_, ok := e.Meta["error"]
	return ok
}
