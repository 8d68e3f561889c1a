package vault

import (
	"sync"

	"autocompounder/core/events"
)

// DefaultEventLogSize is the number of events kept in memory when no size is
// configured.
const DefaultEventLogSize = 1024

// EventLog records the most recent vault events, dropping the oldest once
// full. Every event is also forwarded to the optional downstream emitter.
type EventLog struct {
	mu         sync.RWMutex
	entries    []events.Event
	size       int
	downstream events.Emitter
}

// NewEventLog constructs a log keeping up to size events and forwarding to
// downstream when non-nil. A non-positive size selects DefaultEventLogSize.
func NewEventLog(downstream events.Emitter, size int) *EventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &EventLog{downstream: downstream, size: size}
}

// Emit implements events.Emitter.
func (l *EventLog) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	l.mu.Lock()
	if len(l.entries) >= l.size {
		n := copy(l.entries, l.entries[len(l.entries)-l.size+1:])
		l.entries = l.entries[:n]
	}
	l.entries = append(l.entries, evt)
	downstream := l.downstream
	l.mu.Unlock()
	if downstream != nil {
		downstream.Emit(evt)
	}
}

// Events returns a snapshot of the retained events, oldest first.
func (l *EventLog) Events() []events.Event {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]events.Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns the events of the supplied type in emission order.
func (l *EventLog) Filter(eventType string) []events.Event {
	all := l.Events()
	out := make([]events.Event, 0, len(all))
	for _, evt := range all {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}
