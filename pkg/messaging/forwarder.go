package messaging

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/events"
)

// Forwarder relays bus events onto the AMQP events exchange so
// external consumers see the same stream as the dashboard.
type Forwarder struct {
	logger *logrus.Logger
	client *Client
	sub    *events.Subscription
	done   chan struct{}
}

// NewForwarder subscribes to the bus and starts relaying. Stop the
// forwarder by unsubscribing or closing the bus.
func NewForwarder(logger *logrus.Logger, client *Client, bus *events.Bus) *Forwarder {
	f := &Forwarder{
		logger: logger,
		client: client,
		sub:    bus.Subscribe("amqp-forwarder"),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Forwarder) run() {
	defer close(f.done)
	for event := range f.sub.C {
		body, err := json.Marshal(event)
		if err != nil {
			f.logger.WithError(err).Warn("Failed to marshal event for AMQP")
			continue
		}
		if err := f.client.PublishEvent(context.Background(), string(event.Type), body); err != nil {
			f.logger.WithError(err).WithField("type", event.Type).Debug("Failed to forward event to AMQP")
		}
	}
}

// Stop unsubscribes from the bus and waits for the relay loop to
// drain.
func (f *Forwarder) Stop() {
	f.sub.Unsubscribe()
	<-f.done
}
