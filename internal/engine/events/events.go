// Package events provides structured domain events for the kernel and its
// modules. Every committed mutation produces one event carrying the before and
// after values of the slot it touched.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/spendsave/internal/engine/state"
)

// EventType classifies the kind of domain event.
type EventType string

const (
	// Registry events
	EventModuleRegistered  EventType = "module.registered"
	EventOwnershipTransfer EventType = "kernel.ownership_transferred"
	EventTreasuryUpdated   EventType = "kernel.treasury_updated"
	EventDelegateUpdated   EventType = "kernel.delegate_updated"
	EventSnapshotRestored  EventType = "kernel.snapshot_restored"

	// Configuration events
	EventConfigUpdated    EventType = "config.updated"
	EventConversionParams EventType = "config.conversion_params"
	EventContextWritten   EventType = "context.written"
	EventContextCleared   EventType = "context.cleared"
	EventPhaseChanged     EventType = "hook.phase_changed"

	// Ledger events
	EventAssetRegistered EventType = "ledger.asset_registered"
	EventBalanceChanged  EventType = "ledger.balance_changed"
	EventSupplyChanged   EventType = "ledger.supply_changed"

	// Savings events
	EventSavingsRecorded  EventType = "savings.recorded"
	EventSavingsSkipped   EventType = "savings.skipped"
	EventSavingsWithdrawn EventType = "savings.withdrawn"

	// Deferred conversion events
	EventConversionQueued   EventType = "dca.queued"
	EventConversionDequeued EventType = "dca.dequeued"
	EventConversionExecuted EventType = "dca.executed"
	EventConversionFailed   EventType = "dca.failed"

	// Batch events
	EventBatchExecuted EventType = "batch.executed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event represents a structured domain event.
type Event struct {
	// Core fields
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Context fields
	Module    string `json:"module,omitempty"`
	Component string `json:"component,omitempty"` // kernel|ledger|hook|savings|dca|batch
	Subject   string `json:"subject,omitempty"`   // address of the user or owner affected

	// State fields
	Phase state.Phase `json:"phase,omitempty"`

	// Details
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Correlation
	OperationID string `json:"operation_id,omitempty"`
	Operation   string `json:"operation,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// EventLogger is the interface for event logging.
type EventLogger interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with the request ID from ctx.
	LogWithContext(ctx context.Context, event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler EventHandler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentBySubject returns recent events affecting one address.
	RecentBySubject(subject string, n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext adds the request ID from ctx before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if id, ok := RequestIDFrom(ctx); ok {
		event.RequestID = id
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.recent(n, nil)
}

// RecentBySubject returns recent events affecting one address.
func (rb *RingBuffer) RecentBySubject(subject string, n int) []Event {
	return rb.recent(n, func(e Event) bool { return e.Subject == subject })
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.recent(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) recent(n int, match EventFilter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all events from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the request ID stored in ctx.
func RequestIDFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new EventBuilder.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Severity:  SeverityInfo,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Module sets the module name.
func (b *EventBuilder) Module(name string) *EventBuilder {
	b.event.Module = name
	return b
}

// Component sets the component.
func (b *EventBuilder) Component(component string) *EventBuilder {
	b.event.Component = component
	return b
}

// Subject sets the affected address.
func (b *EventBuilder) Subject(subject string) *EventBuilder {
	b.event.Subject = subject
	return b
}

// Phase sets the interception phase.
func (b *EventBuilder) Phase(phase state.Phase) *EventBuilder {
	b.event.Phase = phase
	return b
}

// Severity sets the severity.
func (b *EventBuilder) Severity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// Message sets the message.
func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// ErrorFrom sets the error from an error value.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

// Metadata adds metadata.
func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// Change records a before/after pair.
func (b *EventBuilder) Change(before, after string) *EventBuilder {
	return b.Metadata("before", before).Metadata("after", after)
}

// Operation sets the correlation fields of the enclosing operation.
func (b *EventBuilder) Operation(id, name string) *EventBuilder {
	b.event.OperationID = id
	b.event.Operation = name
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = uuid.NewString()
	}
	return b.event
}

// NoOpLogger is an event logger that discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                          {}
func (NoOpLogger) LogWithContext(context.Context, Event)              {}
func (NoOpLogger) Subscribe(EventHandler) func()                      { return func() {} }
func (NoOpLogger) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                                 { return nil }
func (NoOpLogger) RecentBySubject(string, int) []Event                { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event                { return nil }

var (
	_ EventLogger = (*RingBuffer)(nil)
	_ EventLogger = NoOpLogger{}
)
