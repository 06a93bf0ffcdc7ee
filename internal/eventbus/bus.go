// Package eventbus is RalphX's in-process event stream: an async,
// channel-buffered publish/subscribe bus used to fan loop-executor and
// adapter activity out to CLI progress rendering and the (out-of-scope)
// HTTP collaborator's own subscribers. It is deliberately NOT
// WAL-persisted — Run, Session, and WorkItem rows in the Project Store are
// the durable record; this bus only carries best-effort, in-flight
// notifications (task-with-channels discipline, not a wire protocol).
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is anything the bus can carry: a type tag, a timestamp, and an
// opaque payload the subscriber type-asserts against.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the concrete Event implementation every RalphX publisher
// constructs via NewEvent.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent stamps payload with the current time and wraps it as an Event.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler reacts to a published Event. Handlers run concurrently with each
// other and are individually panic-isolated by the bus.
type Handler func(ctx context.Context, event Event)

// Bus is the publish/subscribe surface every component depends on.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus dispatches events to subscribed handlers from a single
// background goroutine, fanning each event out to its handlers in
// parallel. Publish never blocks the caller: a full buffer drops the event
// and logs a warning rather than stalling the loop executor.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch goroutine and returns a ready bus.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("event published", zap.String("type", event.Type()))
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("handler subscribed", zap.String("event_type", eventType))
}

// Unsubscribe removes the most-recently-registered handler for eventType.
// Go has no function-pointer equality, so exact handler removal isn't
// possible; last-in-first-out removal is the safe default for the
// subscribe/defer-unsubscribe pattern callers use.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}

	newHandlers := make([]Handler, 0, len(handlers)-1)
	newHandlers = append(newHandlers, handlers[:len(handlers)-1]...)

	if len(newHandlers) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = newHandlers
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)

	if h, ok := b.handlers[event.Type()]; ok {
		handlers = append(handlers, h...)
	}
	if h, ok := b.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Predefined event types. The loop executor publishes the run, iteration
// and stream events and the doctor publishes doctor_finding; nothing in this
// module publishes work_item_claimed, work_item_released,
// stale_claim_reaped or error.
const (
	EventTypeRunStarted        = "run_started"
	EventTypeRunCompleted      = "run_completed"
	EventTypeIterationStarted  = "iteration_started"
	EventTypeIterationFinished = "iteration_finished"
	EventTypeStreamEvent       = "stream_event"
	EventTypeWorkItemClaimed   = "work_item_claimed"
	EventTypeWorkItemReleased  = "work_item_released"
	EventTypeStaleClaimReaped  = "stale_claim_reaped"
	EventTypeDoctorFinding     = "doctor_finding"
	EventTypeError             = "error"
)

// RunStartedPayload announces a loop run beginning execution.
type RunStartedPayload struct {
	RunID    string
	LoopName string
	Mode     string
}

// RunCompletedPayload announces a run reaching a terminal state.
type RunCompletedPayload struct {
	RunID      string
	LoopName   string
	State      string
	Iterations int
	Duration   time.Duration
}

// IterationStartedPayload marks the start of one executor iteration.
type IterationStartedPayload struct {
	RunID     string
	Iteration int
	Mode      string
	ItemID    string // empty for generator-mode iterations
}

// IterationFinishedPayload carries the outcome of one iteration.
type IterationFinishedPayload struct {
	RunID       string
	Iteration   int
	Success     bool
	ErrorCode   string
	Duration    time.Duration
	ItemsCreate int
}

// StreamEventPayload relays one translated StreamEvent from the LLM
// subprocess adapter (see internal/llmadapter) to subscribers.
type StreamEventPayload struct {
	RunID     string
	SessionID string
	Kind      string // init, text, thinking, tool_use, tool_result, usage, error, complete
	Detail    any
}

// WorkItemClaimedPayload announces a successful exclusive claim.
type WorkItemClaimedPayload struct {
	ItemID    string
	ClaimedBy string
	RunID     string
}

// WorkItemReleasedPayload announces a claim release and the status the
// item was restored to.
type WorkItemReleasedPayload struct {
	ItemID       string
	RestoredTo   string
	ReleaseCause string // processed, failed, stale_reaper, loop_stop
}

// StaleClaimReapedPayload announces the doctor's or reaper's recovery of
// one abandoned claim.
type StaleClaimReapedPayload struct {
	ItemID          string
	PreviousClaimer string
	InactiveFor     time.Duration
}

// DoctorFindingPayload announces one stale-run condition the doctor
// detected during a sweep.
type DoctorFindingPayload struct {
	RunID     string
	Condition string
	Detail    string
}

// ErrorPayload carries a component-scoped error for observers that only
// care about failures.
type ErrorPayload struct {
	RunID     string
	Component string
	Code      string
	Error     string
}
