// Package events provides the lifecycle event bus. Subscribers are plain
// callbacks supplied at construction or via Subscribe; there is no global
// singleton bus.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type identifies a lifecycle event.
type Type string

const (
	BatchCreated      Type = "batchCreated"
	BatchStarted      Type = "batchStarted"
	BatchProgress     Type = "batchProgress"
	DocumentCompleted Type = "documentCompleted"
	DocumentFailed    Type = "documentFailed"
	BatchCompleted    Type = "batchCompleted"
	BatchFailed       Type = "batchFailed"
	BatchCancelled    Type = "batchCancelled"
)

// Event carries the batch id and an event-specific payload.
type Event struct {
	Type    Type      `json:"type"`
	BatchID string    `json:"batchId"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Subscriber receives published events. Subscribers are invoked
// synchronously on the publishing goroutine and must return quickly;
// anything slow belongs behind the subscriber's own channel.
type Subscriber func(Event)

// Bus fans events out to its subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger zerolog.Logger
}

// NewBus creates a bus with an initial set of subscribers.
func NewBus(logger zerolog.Logger, subs ...Subscriber) *Bus {
	return &Bus{subs: subs, logger: logger}
}

// Subscribe registers an additional subscriber.
func (b *Bus) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(t Type, batchID string, payload any) {
	evt := Event{Type: t, BatchID: batchID, Payload: payload, At: time.Now().UTC()}

	b.logger.Debug().
		Str("event", string(t)).
		Str("batch_id", batchID).
		Msg("Publishing event")

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}
