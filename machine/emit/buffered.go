package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by run ID, and answers
// history queries. Tests use it to assert on what an exploration did.
//
// It keeps every event; long explorations with event_handled enabled can
// produce millions of them, so Clear runs that are no longer needed.
//
// Example:
//
//	buf := emit.NewBufferedEmitter()
//	engine, _ := machine.New(test, machine.WithEmitter(buf), machine.WithRunID("run-001"))
//	engine.Run(ctx)
//	bugs := buf.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "bug_found"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter selects events. Set fields are combined with AND; zero
// fields match everything.
type HistoryFilter struct {
	ActorID   string // exact actor, e.g. "Client(1)"
	Msg       string
	Iteration int  // 0 = any iteration
	MinStep   *int // inclusive
	MaxStep   *int // inclusive
}

func (f HistoryFilter) empty() bool {
	return f.ActorID == "" && f.Msg == "" && f.Iteration == 0 && f.MinStep == nil && f.MaxStep == nil
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event of runID in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of runID matching filter, in
// emission order. The result is never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if filter.empty() {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	result := []Event{}
	for _, event := range events {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Count returns how many events of runID have the given message.
func (b *BufferedEmitter) Count(runID, msg string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, e := range b.events[runID] {
		if e.Msg == msg {
			n++
		}
	}
	return n
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.ActorID != "" && event.ActorID != filter.ActorID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.Iteration != 0 && event.Iteration != filter.Iteration {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
