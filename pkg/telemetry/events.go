package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// StepKey is the associated deployment key, in its "[module,account,region]"
	// diagnostic form, if applicable.
	StepKey string `json:"step_key,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted           = "run.started"
	EventTypeRunCompleted         = "run.completed"
	EventTypeRunFailed            = "run.failed"
	EventTypeStepStarted          = "step.started"
	EventTypeStepCompleted        = "step.completed"
	EventTypeStepFailed           = "step.failed"
	EventTypeStepSkipped          = "step.skipped"
	EventTypeConditionalUpdateNoop = "conditional_update.no_change"
	EventTypePolicyViolation      = "policy.violation"
	EventTypeEngineInvoked        = "engine.invoked"
	EventTypeError                = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, command string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("run %s started: %s", runID, command),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"command": command,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepStarted publishes a step started event.
func (ep *EventPublisher) PublishStepStarted(runID, stepKey, action string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepStarted,
		Source:  "scheduler",
		RunID:   runID,
		StepKey: stepKey,
		Message: fmt.Sprintf("step %s started: %s", stepKey, action),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"action": action,
		},
	})
}

// PublishStepCompleted publishes a step completed event.
func (ep *EventPublisher) PublishStepCompleted(runID, stepKey string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStepCompleted,
		Source:  "scheduler",
		RunID:   runID,
		StepKey: stepKey,
		Message: fmt.Sprintf("step %s completed", stepKey),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStepFailed publishes a step failed event.
func (ep *EventPublisher) PublishStepFailed(runID, stepKey, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepFailed,
		Source:  "scheduler",
		RunID:   runID,
		StepKey: stepKey,
		Message: fmt.Sprintf("step %s failed: %s", stepKey, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepSkipped publishes a step skipped event (upstream failure or
// a ConditionalUpdate that resolved to no change).
func (ep *EventPublisher) PublishStepSkipped(runID, stepKey, cause string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepSkipped,
		Source:  "scheduler",
		RunID:   runID,
		StepKey: stepKey,
		Message: fmt.Sprintf("step %s skipped: %s", stepKey, cause),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"cause": cause,
		},
	})
}

// PublishConditionalUpdateNoop publishes an event for a ConditionalUpdate
// step finalized without invoking the engine because no upstream output
// had changed.
func (ep *EventPublisher) PublishConditionalUpdateNoop(stepKey string) error {
	return ep.Publish(Event{
		Type:    EventTypeConditionalUpdateNoop,
		Source:  "scheduler",
		StepKey: stepKey,
		Message: fmt.Sprintf("conditional update on %s resolved to no change", stepKey),
		Level:   EventLevelInfo,
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(stepKey, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		StepKey: stepKey,
		Message: fmt.Sprintf("policy violation on %s: %s - %s", stepKey, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// The processEvents goroutine drains the buffer as events
			// arrive; this ticker only bounds worst-case latency.
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByStepKey creates a filter that only allows events for a specific
// deployment key.
func FilterByStepKey(stepKey string) EventFilter {
	return func(event Event) bool {
		return event.StepKey == stepKey
	}
}
