package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
	"voice-agent-server/pkg/session"
)

// SessionFactory builds a session bound to one media stream. The
// command wiring supplies it so the gateway stays free of provider and
// profile plumbing.
type SessionFactory func(callID, caller, called string, sink session.AudioSink) *session.Session

// Gateway terminates provider media-stream WebSocket connections and
// bridges them to call sessions.
type Gateway struct {
	logger   *logrus.Logger
	config   config.TelephonyConfig
	manager  *session.Manager
	factory  SessionFactory
	upgrader websocket.Upgrader
}

// NewGateway creates the media-stream gateway.
func NewGateway(logger *logrus.Logger, cfg config.TelephonyConfig, manager *session.Manager, factory SessionFactory) *Gateway {
	return &Gateway{
		logger:  logger,
		config:  cfg,
		manager: manager,
		factory: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media provider connects server-to-server without an Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream is the WebSocket endpoint for one call's media stream.
// It runs the read loop until the stream stops or the transport drops.
func (g *Gateway) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Error("Failed to upgrade media stream connection")
		return
	}
	defer conn.Close()

	g.logger.WithField("remote", r.RemoteAddr).Info("Media stream connected")

	var (
		sess   *session.Session
		callID string
		codec  string
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if sess != nil && !sess.Done() {
				sess.Fail(errors.Wrap(err, "media stream transport dropped"))
				g.manager.Remove(callID)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.WithError(err).Warn("Media stream read error")
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.logger.WithError(err).Warn("Invalid media stream message")
			continue
		}

		switch msg.Event {
		case "connected":
			g.logger.Debug("Media stream handshake received")

		case "start":
			if msg.Start == nil {
				g.logger.Warn("Start event without start payload")
				continue
			}
			if sess != nil {
				g.logger.Warn("Duplicate start event, ignoring")
				continue
			}
			sess, callID = g.handleStart(conn, msg.Start)
			codec = codecFromEncoding(msg.Start.MediaFormat.Encoding)

		case "media":
			if sess == nil || msg.Media == nil {
				continue
			}
			g.handleMedia(sess, msg, codec)

		case "mark":
			if msg.Mark != nil {
				g.logger.WithField("mark", msg.Mark.Name).Debug("Playback mark received")
			}

		case "stop":
			g.logger.WithField("call_id", callID).Info("Media stream stopping")
			if sess != nil {
				sess.HandleStop()
				g.manager.Remove(callID)
			}
			return

		default:
			g.logger.WithField("event", msg.Event).Debug("Unhandled media stream event")
		}
	}
}

func (g *Gateway) handleStart(conn *websocket.Conn, start *startMessage) (*session.Session, string) {
	callID := start.CustomParameters["call_sid"]
	if callID == "" {
		callID = start.CallSid
	}
	caller := start.CustomParameters["caller"]
	called := start.CustomParameters["called"]

	logger := g.logger.WithFields(logrus.Fields{
		"call_id":    callID,
		"stream_sid": start.StreamSid,
	})

	sink := &streamConn{
		conn:      conn,
		streamSid: start.StreamSid,
		config:    g.config,
		logger:    logger,
	}

	sess := g.factory(callID, caller, called, sink)
	if err := g.manager.Add(sess); err != nil {
		logger.WithError(err).Error("Failed to register session")
		sess.End("duplicate_call")
		return nil, ""
	}

	logger.WithField("caller", caller).Info("Media stream started")

	if err := sess.StreamStarted(); err != nil {
		logger.WithError(err).Error("Failed to start streaming")
	}
	return sess, callID
}

// codecFromEncoding maps the start event's media-format encoding onto
// the payload codec names pkg/audio understands. Providers default to
// μ-law at 8 kHz.
func codecFromEncoding(encoding string) string {
	switch strings.ToLower(encoding) {
	case "", "audio/x-mulaw", "audio/mulaw", "audio/pcmu":
		return "PCMU"
	case "audio/x-alaw", "audio/alaw", "audio/pcma":
		return "PCMA"
	case "audio/l16", "audio/x-l16":
		return "L16"
	default:
		return encoding
	}
}

func (g *Gateway) handleMedia(sess *session.Session, msg streamMessage, codec string) {
	payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		g.logger.WithError(err).Warn("Invalid base64 media payload")
		return
	}

	seq, err := strconv.ParseUint(msg.SequenceNumber, 10, 32)
	if err != nil {
		g.logger.WithError(err).Warn("Invalid media sequence number")
		return
	}

	// The session pipeline works in μ-law; transcode other negotiated
	// codecs here so the segmenter sees one format.
	if codec != "PCMU" {
		pcm, err := audio.DecodePayload(payload, codec)
		if err != nil {
			g.logger.WithError(err).Warn("Undecodable media payload")
			return
		}
		payload = audio.PCMToMuLaw(pcm)
	}

	if err := sess.Ingest(audio.Frame{Seq: uint32(seq), Payload: payload}); err != nil {
		// Out-of-order frames are dropped, the stream continues
		g.logger.WithError(err).Warn("Frame rejected")
	}
}

// streamConn is the write half of one media stream. It implements
// session.AudioSink, pacing outbound chunks so the provider's jitter
// buffer is not flooded.
type streamConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSid string
	config    config.TelephonyConfig
	logger    *logrus.Entry
}

func (c *streamConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// PlayAudio streams one μ-law buffer back to the caller in paced
// chunks, then sends a mark naming the finished playback.
func (c *streamConn) PlayAudio(ctx context.Context, mulaw []byte, label string) error {
	chunkSize := c.config.OutboundChunkBytes
	if chunkSize <= 0 {
		chunkSize = 640
	}

	ticker := time.NewTicker(c.config.OutboundPacing)
	defer ticker.Stop()

	for offset := 0; offset < len(mulaw); offset += chunkSize {
		end := offset + chunkSize
		if end > len(mulaw) {
			end = len(mulaw)
		}

		if err := c.writeJSON(outboundMedia{
			Event:     "media",
			StreamSid: c.streamSid,
			Media: outboundPayload{
				Payload: base64.StdEncoding.EncodeToString(mulaw[offset:end]),
			},
		}); err != nil {
			return errors.Wrap(err, "failed to send media chunk")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := c.writeJSON(outboundMark{
		Event:     "mark",
		StreamSid: c.streamSid,
		Mark:      markMessage{Name: label},
	}); err != nil {
		return errors.Wrap(err, "failed to send playback mark")
	}

	c.logger.WithFields(logrus.Fields{
		"label": label,
		"bytes": len(mulaw),
	}).Debug("Playback complete")
	return nil
}
