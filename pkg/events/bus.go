package events

// Package events is the in-process fan-out bus between call sessions and
// the delivery surfaces (dashboard hub, AMQP forwarder). Publishing never
// blocks the call path; slow subscribers lose events.

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/metrics"
)

// Type identifies a bus event.
type Type string

const (
	TypeCallStarted       Type = "call_started"
	TypeCallEnded         Type = "call_ended"
	TypeStateChanged      Type = "state_changed"
	TypeTranscript        Type = "transcript"
	TypeProcessingStatus  Type = "processing_status"
	TypeTurnFailed        Type = "turn_failed"
	TypeLocationPending   Type = "location_pending"
	TypeLocationSent      Type = "location_sent"
	TypeLocationCancelled Type = "location_cancelled"
	TypeError             Type = "error"
)

// Event is one bus message. Data holds type-specific payload fields that
// serialize directly to the dashboard and AMQP as JSON.
type Event struct {
	Type      Type                   `json:"type"`
	CallID    string                 `json:"call_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscription is one subscriber's view of the bus. Receive from C until
// it closes; call Unsubscribe when done.
type Subscription struct {
	ID   string
	Name string
	C    <-chan Event

	ch  chan Event
	bus *Bus
}

// Unsubscribe detaches from the bus and closes C.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.ID)
}

// Bus fans events out to subscribers over buffered channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	closed      bool
	logger      *logrus.Logger
}

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 64

// NewBus creates an event bus.
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  DefaultBufferSize,
		logger:      logger,
	}
}

// Subscribe registers a named subscriber. The name labels drop metrics;
// multiple subscribers may share one.
func (b *Bus) Subscribe(name string) *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{
		ID:   uuid.New().String(),
		Name: name,
		C:    ch,
		ch:   ch,
		bus:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber without blocking. A
// subscriber with a full buffer misses the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDropped.WithLabelValues(sub.Name).Inc()
			b.logger.WithFields(logrus.Fields{
				"subscriber": sub.Name,
				"event_type": event.Type,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// Close shuts the bus down. All subscriber channels close; later
// publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
