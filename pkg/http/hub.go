package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/events"
	"voice-agent-server/pkg/metrics"
)

const (
	clientSendBuffer = 256
	writeWait        = 10 * time.Second
	pingPeriod       = 60 * time.Second
	pongWait         = 90 * time.Second
)

var dashboardUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// dashboardClient is one connected dashboard browser.
type dashboardClient struct {
	hub    *DashboardHub
	conn   *websocket.Conn
	send   chan []byte
	callID string // non-empty when watching a single call
}

// DashboardHub fans live call events out to connected dashboards. It
// subscribes to the event bus; clients that cannot keep up are
// disconnected rather than allowed to stall the stream.
type DashboardHub struct {
	logger  *logrus.Logger
	bus     *events.Bus
	clients map[*dashboardClient]bool
	mutex   sync.RWMutex
	closed  bool
}

// NewDashboardHub creates the hub. Call Run to start it.
func NewDashboardHub(logger *logrus.Logger, bus *events.Bus) *DashboardHub {
	return &DashboardHub{
		logger:  logger,
		bus:     bus,
		clients: make(map[*dashboardClient]bool),
	}
}

// Run pumps bus events to clients until the context is cancelled.
func (h *DashboardHub) Run(ctx context.Context) {
	sub := h.bus.Subscribe("dashboard")
	defer sub.Unsubscribe()

	h.logger.Info("Dashboard hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Dashboard hub shutting down")
			h.closeAll()
			return

		case event, ok := <-sub.C:
			if !ok {
				h.logger.Info("Event bus closed, dashboard hub stopping")
				h.closeAll()
				return
			}
			h.broadcast(event)
		}
	}
}

func (h *DashboardHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal dashboard event")
		return
	}

	h.mutex.RLock()
	var slow []*dashboardClient
	for client := range h.clients {
		if client.callID != "" && client.callID != event.CallID {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		metrics.EventsDropped.WithLabelValues("dashboard-client").Inc()
		h.logger.Warn("Dashboard client too slow, disconnecting")
		h.remove(client)
	}
}

func (h *DashboardHub) add(client *dashboardClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	metrics.DashboardClients.Inc()
	return true
}

func (h *DashboardHub) remove(client *dashboardClient) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.DashboardClients.Dec()
		h.logger.Debug("Dashboard client disconnected")
	}
	h.mutex.Unlock()
}

func (h *DashboardHub) closeAll() {
	h.mutex.Lock()
	for client := range h.clients {
		close(client.send)
		metrics.DashboardClients.Dec()
	}
	h.clients = make(map[*dashboardClient]bool)
	h.closed = true
	h.mutex.Unlock()
}

// ClientCount returns the number of connected dashboards.
func (h *DashboardHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades a dashboard connection. An optional call_id query
// parameter narrows the stream to one call.
func (h *DashboardHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := dashboardUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade dashboard connection")
		return
	}

	client := &dashboardClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		callID: r.URL.Query().Get("call_id"),
	}

	if !h.add(client) {
		conn.Close()
		return
	}
	h.logger.WithField("call_id", client.callID).Info("Dashboard client connected")

	go client.writePump()
	go client.readPump()
}

func (c *dashboardClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and unregisters on disconnect.
func (c *dashboardClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
