package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event in Pilot.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	ProjectID string `json:"project_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for lifecycle event types.
const (
	EventTypeProjectCreated    = "project.created"
	EventTypeProjectDeleted    = "project.deleted"
	EventTypeProjectRolledBack = "project.rolled_back"
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypeRunInterrupted    = "run.interrupted"
	EventTypePolicyDenied      = "policy.denied"
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
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MinLevel != "" {
		ep.AddFilter(FilterByLevel(cfg.MinLevel))
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
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
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event %s dropped", event.Type)
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishProjectCreated publishes a project created event.
func (ep *EventPublisher) PublishProjectCreated(projectID, name, template string) error {
	return ep.Publish(Event{
		Type:      EventTypeProjectCreated,
		Source:    "lifecycle",
		ProjectID: projectID,
		Message:   fmt.Sprintf("Project %q created from template %s", name, template),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"name":     name,
			"template": template,
		},
	})
}

// PublishProjectDeleted publishes a project deleted event.
func (ep *EventPublisher) PublishProjectDeleted(projectID string) error {
	return ep.Publish(Event{
		Type:      EventTypeProjectDeleted,
		Source:    "lifecycle",
		ProjectID: projectID,
		Message:   fmt.Sprintf("Project %s deleted", projectID),
		Level:     EventLevelInfo,
	})
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(projectID, runID, branch string, startStep int) error {
	return ep.Publish(Event{
		Type:      EventTypeRunStarted,
		Source:    "lifecycle",
		ProjectID: projectID,
		RunID:     runID,
		Message:   fmt.Sprintf("Run %s started on branch %s at step %d", runID, branch, startStep),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"branch":     branch,
			"start_step": startStep,
		},
	})
}

// PublishRunFinished publishes the terminal event of a run. outcome is one
// of completed, failed or interrupted.
func (ep *EventPublisher) PublishRunFinished(projectID, runID, outcome string, duration time.Duration, reason string) error {
	event := Event{
		Source:    "lifecycle",
		ProjectID: projectID,
		RunID:     runID,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	}
	switch outcome {
	case "completed":
		event.Type = EventTypeRunCompleted
		event.Level = EventLevelInfo
		event.Message = fmt.Sprintf("Run %s completed", runID)
	case "interrupted":
		event.Type = EventTypeRunInterrupted
		event.Level = EventLevelWarning
		event.Message = fmt.Sprintf("Run %s interrupted", runID)
	default:
		event.Type = EventTypeRunFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Run %s failed: %s", runID, reason)
		event.Data["reason"] = reason
	}
	return ep.Publish(event)
}

// PublishRolledBack publishes a rollback event.
func (ep *EventPublisher) PublishRolledBack(projectID, runID string, checkpointsRemoved int64) error {
	return ep.Publish(Event{
		Type:      EventTypeProjectRolledBack,
		Source:    "lifecycle",
		ProjectID: projectID,
		RunID:     runID,
		Message:   fmt.Sprintf("Project %s rolled back run %s (%d checkpoints discarded)", projectID, runID, checkpointsRemoved),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"checkpoints_removed": checkpointsRemoved,
		},
	})
}

// PublishPolicyDenied publishes an admission denial.
func (ep *EventPublisher) PublishPolicyDenied(projectID, operation string, reasons []string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyDenied,
		Source:    "policy",
		ProjectID: projectID,
		Message:   fmt.Sprintf("Operation %s denied by policy", operation),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"operation": operation,
			"reasons":   reasons,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
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

// processEvents delivers buffered events in batches until shutdown, then
// drains what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Deliver whatever is already queued without waiting.
			for len(batch) < ep.config.MaxBatchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
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

// FilterByProjectID creates a filter that only allows events for a specific project.
func FilterByProjectID(projectID string) EventFilter {
	return func(event Event) bool {
		return event.ProjectID == projectID
	}
}
