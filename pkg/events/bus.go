// Package events provides the in-process meeting lifecycle event bus.
// Subscribers run concurrently and in isolation: a slow or panicking
// subscriber never blocks its peers or the producer. The bus does not
// persist anything; the meeting manager writes the corresponding
// meeting_events row in the same critical section as the state change.
package events

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber receives one event. It runs on its own goroutine.
type Subscriber func(ctx context.Context, event MeetingEvent)

// Bus fans typed meeting events out to per-type subscriber lists.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber

	wg       sync.WaitGroup
	stopMu   sync.Mutex
	stopping bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a callback for one event type.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], fn)
}

// Emit delivers the event to every subscriber of its type, each on its
// own supervised goroutine. Returns immediately.
func (b *Bus) Emit(ctx context.Context, meetingID uuid.UUID, eventType EventType, data Payload) {
	b.mu.RLock()
	subs := b.subs[eventType]
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	event := MeetingEvent{
		MeetingID: meetingID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.stopMu.Lock()
	if b.stopping {
		b.stopMu.Unlock()
		slog.Debug("Dropping event during shutdown", "meeting_id", meetingID, "event_type", eventType)
		return
	}
	b.wg.Add(len(subs))
	b.stopMu.Unlock()

	for _, fn := range subs {
		go func(fn Subscriber) {
			defer b.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("Event subscriber panicked",
						"meeting_id", meetingID, "event_type", eventType,
						"panic", rec, "stack", string(debug.Stack()))
				}
			}()
			fn(ctx, event)
		}(fn)
	}
}

// Close stops accepting events and waits for in-flight subscriber
// callbacks, bounded by ctx.
func (b *Bus) Close(ctx context.Context) error {
	b.stopMu.Lock()
	b.stopping = true
	b.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
