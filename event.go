package saga

import (
	"sync"
	"time"
)

// EventType identifies a saga lifecycle transition.
type EventType int

const (
	EventSagaStarted EventType = iota
	EventSagaCompleted
	EventSagaFailed
	EventStepStarted
	EventStepCompleted
	EventStepFailed
	EventCompensationStarted
	EventCompensationCompleted
	EventCompensationFailed
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	switch t {
	case EventSagaStarted:
		return "saga_started"
	case EventSagaCompleted:
		return "saga_completed"
	case EventSagaFailed:
		return "saga_failed"
	case EventStepStarted:
		return "step_started"
	case EventStepCompleted:
		return "step_completed"
	case EventStepFailed:
		return "step_failed"
	case EventCompensationStarted:
		return "compensation_started"
	case EventCompensationCompleted:
		return "compensation_completed"
	case EventCompensationFailed:
		return "compensation_failed"
	default:
		return "unknown"
	}
}

// Event is an immutable record emitted at each lifecycle transition.
// StepName is empty for saga-level events. Err is set on the failure
// variants; Duration on the completion variants.
type Event struct {
	Type      EventType
	SagaID    string
	StepName  string
	Timestamp time.Time
	Err       error
	Duration  time.Duration
}

// IsSagaEvent reports whether the event describes the saga as a whole.
func (e Event) IsSagaEvent() bool {
	switch e.Type {
	case EventSagaStarted, EventSagaCompleted, EventSagaFailed:
		return true
	}
	return false
}

// IsStepEvent reports whether the event describes a forward step.
func (e Event) IsStepEvent() bool {
	switch e.Type {
	case EventStepStarted, EventStepCompleted, EventStepFailed:
		return true
	}
	return false
}

// IsCompensationEvent reports whether the event describes a
// compensation attempt.
func (e Event) IsCompensationEvent() bool {
	switch e.Type {
	case EventCompensationStarted, EventCompensationCompleted, EventCompensationFailed:
		return true
	}
	return false
}

// IsSuccess reports whether the event is a completion variant.
func (e Event) IsSuccess() bool {
	switch e.Type {
	case EventSagaCompleted, EventStepCompleted, EventCompensationCompleted:
		return true
	}
	return false
}

// IsFailure reports whether the event is a failure variant.
func (e Event) IsFailure() bool {
	switch e.Type {
	case EventSagaFailed, EventStepFailed, EventCompensationFailed:
		return true
	}
	return false
}

// eventBus is a broadcast channel with multiple subscribers. Emission
// never blocks saga progress: a subscriber that has fallen behind its
// buffer misses events rather than stalling the coordinator. Close is
// deterministic and idempotent; subscribing after close yields an
// already-closed channel.
type eventBus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	closed  bool
}

func newEventBus(bufSize int) *eventBus {
	return &eventBus{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// subscribe registers a new subscriber channel and returns it with an
// unsubscribe function. Unsubscribing closes the channel.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers an event to every subscriber without blocking.
func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber buffer full: drop rather than stall the saga.
		}
	}
}

// close shuts the bus down and closes all subscriber channels.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
