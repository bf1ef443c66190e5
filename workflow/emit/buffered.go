package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are grouped by TraceID and can be queried with a HistoryFilter. It
// backs tests and the CLI's end-of-run summaries.
//
// Warning: every event is retained until Clear is called.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // traceID -> events
}

// HistoryFilter selects events; unset fields match everything and set fields
// are combined with AND.
type HistoryFilter struct {
	Action  string // Filter by action kind (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.TraceID] = append(b.events[event.TraceID], event)
}

// GetHistory returns a copy of all events for traceID in emission order.
func (b *BufferedEmitter) GetHistory(traceID string) []Event {
	return b.GetHistoryWithFilter(traceID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for traceID matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(traceID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[traceID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Count returns the number of events with the given message across all traces.
func (b *BufferedEmitter) Count(msg string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, events := range b.events {
		for _, e := range events {
			if e.Msg == msg {
				n++
			}
		}
	}
	return n
}

// TraceIDs returns every trace ID with at least one stored event.
func (b *BufferedEmitter) TraceIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	return ids
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
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

// Clear removes the events of traceID, or all events if traceID is empty.
func (b *BufferedEmitter) Clear(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if traceID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, traceID)
}
