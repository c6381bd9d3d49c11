package pool

import (
	"sync"
	"time"
)

// EventType names an asynchronous pool event.
type EventType string

// Pool events
const (
	EventInitialized    EventType = "initialized"
	EventMetricRecorded EventType = "metric_recorded"
	EventSlowQuery      EventType = "slow_query_detected"
	EventConnectionLeak EventType = "connection_leak_detected"
	EventAlertCreated   EventType = "alert_created"
	EventAlertResolved  EventType = "alert_resolved"
	EventHealthWarning  EventType = "health_warning"
	EventClosed         EventType = "closed"
)

// backendReadyEvent returns the per-backend ready event, e.g. "postgresql_ready".
func backendReadyEvent(b Backend) EventType {
	return EventType(string(b) + "_ready")
}

// backendErrorEvent returns the per-backend error event, e.g. "mysql_error".
func backendErrorEvent(b Backend) EventType {
	return EventType(string(b) + "_error")
}

// Event is delivered to subscribers. Payload shape depends on Type:
// QueryMetric for metric/slow-query events, LeakInfo for leaks,
// PerformanceAlert for alert events, ConnectionHealth for health warnings.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler consumes pool events.
type EventHandler func(Event)

// eventBus fans events out to subscribers. Dispatch is fire-and-forget:
// handlers run on their own goroutine and never block the emitter.
type eventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

// Subscribe registers a handler for all subsequent events.
func (b *eventBus) Subscribe(h EventHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// publish delivers an event to all current subscribers.
func (b *eventBus) publish(t EventType, payload any) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	ev := Event{Type: t, Timestamp: time.Now(), Payload: payload}
	go func() {
		for _, h := range handlers {
			h(ev)
		}
	}()
}
