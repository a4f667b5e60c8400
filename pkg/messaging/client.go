package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
	"voice-agent-server/pkg/metrics"
	"voice-agent-server/pkg/session"
)

const (
	dialTimeout    = 5 * time.Second
	channelTimeout = 3 * time.Second
	maxReconnects  = 10
	maxBackoff     = 30 * time.Second
)

// Client publishes call records and live events to RabbitMQ. It
// implements session.HistorySink. When AMQP is not configured the
// server runs without a client and history is disabled.
type Client struct {
	logger    *logrus.Logger
	config    config.MessagingConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewClient creates an AMQP client. Call Connect before use.
func NewClient(logger *logrus.Logger, cfg config.MessagingConfig) *Client {
	return &Client{
		logger:   logger,
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker, declares the call record queue and the
// events exchange, and starts the reconnect monitor.
func (c *Client) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if c.config.AMQPUrl == "" {
		return errors.New("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)
	go func() {
		conn, err := amqp.Dial(c.config.AMQPUrl)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		metrics.AMQPConnectionErrors.Inc()
		return errors.New("connection to AMQP server timed out")
	}
	if err != nil {
		metrics.AMQPConnectionErrors.Inc()
		return errors.Wrap(err, "failed to connect to AMQP server")
	}
	c.conn = conn

	channelChan := make(chan struct {
		channel *amqp.Channel
		err     error
	}, 1)
	go func() {
		channel, err := conn.Channel()
		channelChan <- struct {
			channel *amqp.Channel
			err     error
		}{channel, err}
	}()

	var channel *amqp.Channel
	select {
	case result := <-channelChan:
		channel = result.channel
		err = result.err
	case <-time.After(channelTimeout):
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return errors.New("AMQP channel creation timed out")
	}
	if err != nil {
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return errors.Wrap(err, "failed to open AMQP channel")
	}
	c.channel = channel

	if _, err := channel.QueueDeclare(
		c.config.CallRecordQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return errors.Wrap(err, "failed to declare call record queue")
	}

	if err := channel.ExchangeDeclare(
		c.config.EventsExchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return errors.Wrap(err, "failed to declare events exchange")
	}

	c.connected = true
	c.stopChan = make(chan struct{})
	c.logger.WithFields(logrus.Fields{
		"queue":    c.config.CallRecordQueue,
		"exchange": c.config.EventsExchange,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()
	return nil
}

// Disconnect closes the connection and stops the reconnect monitor.
func (c *Client) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}
	close(c.stopChan)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Store publishes the final call record to the call record queue. It
// satisfies session.HistorySink.
func (c *Client) Store(ctx context.Context, record *session.CallRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal call record")
	}

	if err := c.publish(ctx, "", c.config.CallRecordQueue, body); err != nil {
		return errors.Wrap(err, "failed to publish call record").
			WithField("call_id", record.CallID)
	}

	metrics.AMQPPublishedMessages.WithLabelValues(c.config.CallRecordQueue).Inc()
	c.logger.WithFields(logrus.Fields{
		"call_id": record.CallID,
		"turns":   len(record.Turns),
	}).Debug("Call record published")
	return nil
}

// PublishEvent fans one live event out on the events exchange.
func (c *Client) PublishEvent(ctx context.Context, eventType string, body []byte) error {
	if err := c.publish(ctx, c.config.EventsExchange, eventType, body); err != nil {
		return errors.Wrap(err, "failed to publish event").WithField("type", eventType)
	}
	metrics.AMQPPublishedMessages.WithLabelValues(c.config.EventsExchange).Inc()
	return nil
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if !c.IsConnected() {
		return errors.New("not connected to AMQP server")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.PublishTimeout)
		defer cancel()
	}

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case publishChan <- errors.New("lost AMQP connection before publishing"):
			case <-ctx.Done():
			}
			return
		}

		err := c.channel.Publish(
			exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		select {
		case publishChan <- err:
		case <-ctx.Done():
		}
	}()

	select {
	case err := <-publishChan:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "AMQP publish timed out")
	}
}

func (c *Client) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
			metrics.AMQPConnectionErrors.Inc()
			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= maxReconnects; attempt++ {
				err := c.Connect()
				if err == nil {
					c.logger.Info("Reconnected to AMQP server")
					return
				}
				c.logger.WithError(err).WithField("attempt", attempt).Error("AMQP reconnect failed")

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
