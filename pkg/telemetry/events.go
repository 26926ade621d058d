package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle phases of a single handler call.
const (
	PhaseProcessing = "processing"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// Event levels.
const (
	EventLevelInfo  = "info"
	EventLevelError = "error"
)

// Event is one published event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is the public event name, e.g. "buildStatus".
	Type    string `json:"type"`
	Source  string `json:"source"`
	Message string `json:"message"`
	Level   string `json:"level"`

	// ActionStatus is set for action lifecycle events.
	ActionStatus *ActionStatusEvent `json:"actionStatus,omitempty"`
}

// ActionStatus is the public status of an action.
type ActionStatus struct {
	State string `json:"state"`
}

// ActionStatusEvent is emitted around every routed handler call. The
// processing event and its complete or error counterpart share ActionUID.
type ActionStatusEvent struct {
	// Name is the status event name for the action kind (buildStatus, ...).
	Name string `json:"name"`

	ActionKind    string       `json:"actionKind"`
	ActionName    string       `json:"actionName"`
	ActionVersion string       `json:"actionVersion"`
	ActionUID     string       `json:"actionUid"`
	HandlerType   string       `json:"handlerType"`
	PluginName    string       `json:"pluginName,omitempty"`
	Phase         string       `json:"phase"`
	Status        ActionStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
}

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter selects events; nil selects all.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers in publish order. Delivery is
// synchronous unless EventsConfig.Async is set, in which case one goroutine
// delivers from a buffer.
type EventPublisher struct {
	config EventsConfig

	mu   sync.RWMutex
	subs []subscription

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewEventPublisher creates a publisher. A disabled publisher drops events.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if cfg.Enabled && cfg.Async {
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("async events need a positive buffer size")
		}
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.run()
	}
	return ep, nil
}

// Subscribe registers fn for events accepted by filter.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps and delivers an event. In async mode it blocks while the
// buffer is full and fails once the publisher is shut down.
func (ep *EventPublisher) Publish(event Event) (err error) {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("event publisher is shut down")
		}
	}()
	ep.queue <- event
	return nil
}

// EmitActionStatus publishes an action lifecycle event.
func (ep *EventPublisher) EmitActionStatus(ev ActionStatusEvent) {
	level := EventLevelInfo
	msg := fmt.Sprintf("%s %s.%s %s (%s)", ev.HandlerType, ev.ActionKind, ev.ActionName, ev.Phase, ev.Status.State)
	if ev.Phase == PhaseError {
		level = EventLevelError
		msg += ": " + ev.Error
	}

	_ = ep.Publish(Event{
		Type:         ev.Name,
		Source:       "router",
		Message:      msg,
		Level:        level,
		ActionStatus: &ev,
	})
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.deliver(event)
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops an async publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.queue) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType selects events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		for _, t := range types {
			if event.Type == t {
				return true
			}
		}
		return false
	}
}

// FilterByActionUID selects the lifecycle events of one handler call.
func FilterByActionUID(uid string) EventFilter {
	return func(event Event) bool {
		return event.ActionStatus != nil && event.ActionStatus.ActionUID == uid
	}
}
