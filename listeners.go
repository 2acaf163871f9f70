package persistlab

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"
)

// --- Event System ---

// EventType defines the type for entity lifecycle events.
type EventType string

// Lifecycle event types. Native statements bypass all of them.
const (
	EventPrePersist  EventType = "PrePersist"
	EventPostPersist EventType = "PostPersist"
	EventPreUpdate   EventType = "PreUpdate"
	EventPostUpdate  EventType = "PostUpdate"
	EventPreRemove   EventType = "PreRemove"
	EventPostRemove  EventType = "PostRemove"
	EventPostLoad    EventType = "PostLoad"
)

// EventListener defines the signature for functions that listen to events.
// For EventPreUpdate eventData is the map of changed columns to their new
// values; it is nil for the other events.
type EventListener func(ctx context.Context, eventType EventType, entity interface{}, eventData interface{}) error

type registeredListener struct {
	entityType reflect.Type // nil matches every entity
	fn         EventListener
}

// listenerRegistry holds the registered listeners of one factory.
type listenerRegistry struct {
	mu        sync.RWMutex
	listeners map[EventType][]registeredListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: make(map[EventType][]registeredListener)}
}

// RegisterListener adds a listener for eventType on every entity of the factory.
func (f *Factory) RegisterListener(eventType EventType, listener EventListener) {
	f.listeners.add(eventType, nil, listener)
}

// Listen adds a typed listener for eventType on entities of type T.
func Listen[T any](f *Factory, eventType EventType, fn func(ctx context.Context, entity *T) error) {
	f.listeners.add(eventType, reflect.TypeOf((*T)(nil)).Elem(), func(ctx context.Context, _ EventType, entity interface{}, _ interface{}) error {
		return fn(ctx, entity.(*T))
	})
}

func (r *listenerRegistry) add(eventType EventType, t reflect.Type, fn EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventType] = append(r.listeners[eventType], registeredListener{entityType: t, fn: fn})
}

// trigger runs the entity callback method for eventType and then the
// registered listeners, stopping at the first error.
func (r *listenerRegistry) trigger(ctx context.Context, eventType EventType, entity interface{}, eventData interface{}) error {
	if err := invokeCallback(ctx, eventType, entity); err != nil {
		log.Error("Entity callback failed", "event", eventType, "entity", fmt.Sprintf("%T", entity), "error", err)
		return fmt.Errorf("entity callback for %s failed: %w", eventType, err)
	}

	r.mu.RLock()
	listeners := r.listeners[eventType]
	r.mu.RUnlock()
	if len(listeners) == 0 {
		return nil
	}

	t := reflect.TypeOf(entity).Elem()
	for _, l := range listeners {
		if l.entityType != nil && l.entityType != t {
			continue
		}
		if err := l.fn(ctx, eventType, entity, eventData); err != nil {
			log.Error("Event listener failed", "event", eventType, "entity", fmt.Sprintf("%T", entity), "error", err)
			return fmt.Errorf("event listener for %s failed: %w", eventType, err)
		}
	}
	return nil
}

func invokeCallback(ctx context.Context, eventType EventType, entity interface{}) error {
	switch eventType {
	case EventPrePersist:
		if cb, ok := entity.(PrePersister); ok {
			return cb.PrePersist(ctx)
		}
	case EventPostPersist:
		if cb, ok := entity.(PostPersister); ok {
			return cb.PostPersist(ctx)
		}
	case EventPreUpdate:
		if cb, ok := entity.(PreUpdater); ok {
			return cb.PreUpdate(ctx)
		}
	case EventPostUpdate:
		if cb, ok := entity.(PostUpdater); ok {
			return cb.PostUpdate(ctx)
		}
	case EventPreRemove:
		if cb, ok := entity.(PreRemover); ok {
			return cb.PreRemove(ctx)
		}
	case EventPostRemove:
		if cb, ok := entity.(PostRemover); ok {
			return cb.PostRemove(ctx)
		}
	case EventPostLoad:
		if cb, ok := entity.(PostLoader); ok {
			return cb.PostLoad(ctx)
		}
	}
	return nil
}
