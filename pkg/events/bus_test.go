package events

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-agent-server/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	metrics.Init(logger)
	m.Run()
}

func newTestBus() *Bus {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewBus(logger)
}

func TestBusFanOut(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	a := bus.Subscribe("dashboard")
	b := bus.Subscribe("amqp")

	bus.Publish(Event{Type: TypeCallStarted, CallID: "call-1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case e := <-sub.C:
			assert.Equal(t, TypeCallStarted, e.Type)
			assert.Equal(t, "call-1", e.CallID)
			assert.False(t, e.Timestamp.IsZero(), "timestamp filled on publish")
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received event", sub.Name)
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe("slow")

	// Fill the buffer and then some; publish must never block
	for i := 0; i < DefaultBufferSize+10; i++ {
		bus.Publish(Event{Type: TypeTranscript, CallID: "call-1"})
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
		default:
			assert.Equal(t, DefaultBufferSize, received)
			return
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe("dashboard")
	sub.Unsubscribe()

	_, open := <-sub.C
	assert.False(t, open, "channel closes on unsubscribe")

	// Publishing after unsubscribe must not panic
	bus.Publish(Event{Type: TypeCallEnded})
}

func TestBusClose(t *testing.T) {
	bus := newTestBus()
	sub := bus.Subscribe("dashboard")

	bus.Close()
	_, open := <-sub.C
	require.False(t, open)

	// Idempotent close and post-close operations are safe
	bus.Close()
	bus.Publish(Event{Type: TypeError})

	late := bus.Subscribe("late")
	_, open = <-late.C
	assert.False(t, open, "subscribing to a closed bus yields a closed channel")
}
