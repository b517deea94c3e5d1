// Package emit delivers exploration events to pluggable observability
// backends: text or JSON logs, log/slog, in-memory buffers and
// OpenTelemetry spans.
package emit

// Emitter receives events produced while exploring a program.
//
// Implementations should be:
//   - Non-blocking: exploration runs thousands of iterations per second
//   - Thread-safe: portfolio members emit concurrently
//   - Resilient: Emit must not panic
type Emitter interface {
	// Emit sends an event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter that forwards to each non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
