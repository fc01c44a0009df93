package reporting

import (
	"sync"
	"time"
)

// EventHandler is a function that processes events
type EventHandler func(Event)

// EventFilter is a function that determines if an event should be delivered
type EventFilter func(Event) bool

// EventSubscription represents a subscription to events
type EventSubscription struct {
	ID      string
	Filter  EventFilter
	Handler EventHandler
	Channel chan Event
	mu      sync.RWMutex
	closed  bool
}

// Close closes the subscription
func (s *EventSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		if s.Channel != nil {
			close(s.Channel)
		}
		s.closed = true
	}
}

// IsClosed returns whether the subscription is closed
func (s *EventSubscription) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// trySend delivers on the channel unless the subscription is closed or the
// buffer is full. Holding the read lock across the send keeps it from racing
// a concurrent Close of the channel.
func (s *EventSubscription) trySend(event Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.Channel == nil {
		return false
	}
	select {
	case s.Channel <- event:
		return true
	default:
		return false
	}
}

// EventBusMetrics tracks event bus activity.
type EventBusMetrics struct {
	ActiveSubscriptions int
	EventsPublished     int64
	EventsDelivered     int64
	EventsDropped       int64
	LastEventTime       time.Time
}

// EventBus provides publish/subscribe delivery of orchestration events to
// the presentation layer.
type EventBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*EventSubscription
	metrics       EventBusMetrics
	closed        bool
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscriptions: make(map[string]*EventSubscription),
	}
}

// Publish delivers an event to all matching subscriptions. Channel
// subscribers that cannot keep up have events dropped rather than blocking
// the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return
	}
	subscriptionsCopy := make([]*EventSubscription, 0, len(eb.subscriptions))
	for _, sub := range eb.subscriptions {
		subscriptionsCopy = append(subscriptionsCopy, sub)
	}
	eb.mu.RUnlock()

	var delivered, dropped int64
	for _, sub := range subscriptionsCopy {
		if sub.IsClosed() {
			eb.Unsubscribe(sub)
			continue
		}
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}

		if sub.Handler != nil {
			sub.Handler(event)
			delivered++
		}
		if sub.Channel != nil {
			if sub.trySend(event) {
				delivered++
			} else {
				dropped++
			}
		}
	}

	eb.mu.Lock()
	eb.metrics.EventsPublished++
	eb.metrics.EventsDelivered += delivered
	eb.metrics.EventsDropped += dropped
	eb.metrics.LastEventTime = event.Timestamp()
	eb.mu.Unlock()
}

// Subscribe creates a subscription with a handler function.
func (eb *EventBus) Subscribe(filter EventFilter, handler EventHandler) *EventSubscription {
	return eb.addSubscription(&EventSubscription{
		ID:      GenerateCorrelationID() + "_sub",
		Filter:  filter,
		Handler: handler,
	})
}

// SubscribeChannel creates a subscription backed by a buffered channel.
func (eb *EventBus) SubscribeChannel(filter EventFilter, bufferSize int) *EventSubscription {
	return eb.addSubscription(&EventSubscription{
		ID:      GenerateCorrelationID() + "_sub",
		Filter:  filter,
		Channel: make(chan Event, bufferSize),
	})
}

func (eb *EventBus) addSubscription(sub *EventSubscription) *EventSubscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil
	}
	eb.subscriptions[sub.ID] = sub
	eb.metrics.ActiveSubscriptions = len(eb.subscriptions)
	return sub
}

// Unsubscribe removes a subscription
func (eb *EventBus) Unsubscribe(sub *EventSubscription) {
	if sub == nil {
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[sub.ID]; exists {
		sub.Close()
		delete(eb.subscriptions, sub.ID)
		eb.metrics.ActiveSubscriptions = len(eb.subscriptions)
	}
}

// GetMetrics returns a copy of the bus metrics.
func (eb *EventBus) GetMetrics() EventBusMetrics {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.metrics
}

// Close closes the event bus and all subscriptions
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.closed = true
	for _, sub := range eb.subscriptions {
		sub.Close()
	}
	eb.subscriptions = make(map[string]*EventSubscription)
	eb.metrics.ActiveSubscriptions = 0
}

// FilterByType creates a filter that matches events of specific types
func FilterByType(eventTypes ...EventType) EventFilter {
	typeMap := make(map[EventType]bool)
	for _, t := range eventTypes {
		typeMap[t] = true
	}
	return func(event Event) bool {
		return typeMap[event.Type()]
	}
}

// FilterByTarget creates a filter that matches events for specific targets
func FilterByTarget(targetIDs ...string) EventFilter {
	targetMap := make(map[string]bool)
	for _, id := range targetIDs {
		targetMap[id] = true
	}
	return func(event Event) bool {
		return targetMap[event.TargetID()]
	}
}

// FilterByCorrelation creates a filter that matches one logical operation
func FilterByCorrelation(correlationID string) EventFilter {
	return func(event Event) bool {
		return event.CorrelationID() == correlationID
	}
}

// CombineFilters combines multiple filters with AND logic
func CombineFilters(filters ...EventFilter) EventFilter {
	return func(event Event) bool {
		for _, filter := range filters {
			if !filter(event) {
				return false
			}
		}
		return true
	}
}
