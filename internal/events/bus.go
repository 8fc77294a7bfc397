// Package events carries revision lifecycle events to asynchronous
// subscribers and persists them to an append-only audit log.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	// EventPlanValidated is published after a plan has been validated.
	EventPlanValidated EventType = "plan_validated"
	// EventRevisionProposed is published when a revision pass certifies its actions.
	EventRevisionProposed EventType = "revision_proposed"
	// EventRevisionRejected is published when the live graph could not be
	// certified acyclic.
	EventRevisionRejected EventType = "revision_rejected"
	// EventRevisionApplied is published after every action of a pass was applied.
	EventRevisionApplied EventType = "revision_applied"
	// EventRevisionApplyFailed is published when applying a pass was rolled back.
	EventRevisionApplyFailed EventType = "revision_apply_failed"
)

// AllEventTypes lists every event type in publication order of a typical pass.
var AllEventTypes = []EventType{
	EventPlanValidated,
	EventRevisionProposed,
	EventRevisionRejected,
	EventRevisionApplied,
	EventRevisionApplyFailed,
}

// PlanValidatedData is the payload of EventPlanValidated. source names the
// plan: a file path, or the session it was loaded into.
func PlanValidatedData(source string, tasks int, valid bool, errs []string) map[string]any {
	return map[string]any{
		"source": source,
		"tasks":  tasks,
		"valid":  valid,
		"errors": errs,
	}
}

type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe hub. Each subscriber has its own
// buffered channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	wg          sync.WaitGroup
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType. fn runs on its own goroutine and a
// panic in fn is recovered. The returned function unsubscribes.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers fn for every type in AllEventTypes.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsubs := make([]func(), 0, len(AllEventTypes))
	for _, et := range AllEventTypes {
		unsubs = append(unsubs, b.Subscribe(et, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish stamps the event with a fresh ID and the current time and offers it
// to every subscriber of eventType without blocking. It returns the event ID.
func (b *Bus) Publish(eventType EventType, data map[string]any) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
	return event.ID
}

// Close closes every subscriber channel and waits until the events already
// buffered have been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
