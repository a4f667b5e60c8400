package session

import (
	"context"
	"time"

	"voice-agent-server/pkg/analytics"
)

// Turn is one completed caller/assistant exchange. Turns are immutable
// once appended to the session history.
type Turn struct {
	Index       int                  `json:"index"`
	CallerText  string               `json:"caller_text"`
	ReplyText   string               `json:"reply_text"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Timing      analytics.TurnTiming `json:"timing"`
	Fallback    bool                 `json:"fallback"`
}

// CallRecord is the durable record flushed once when a call ends.
type CallRecord struct {
	CallID   string            `json:"call_id"`
	Caller   string            `json:"caller"`
	Called   string            `json:"called"`
	Turns    []Turn            `json:"turns"`
	Timeline []analytics.Event `json:"timeline"`
	Summary  analytics.Summary `json:"summary"`
}

// AudioSink plays synthesized audio back to the caller. The telephony
// gateway implements it; playback blocks until the audio is enqueued on
// the transport.
type AudioSink interface {
	PlayAudio(ctx context.Context, mulaw []byte, label string) error
}

// HistorySink stores the final call record. The AMQP client implements
// it; a nil sink disables history.
type HistorySink interface {
	Store(ctx context.Context, record *CallRecord) error
}

// Info is a read-only snapshot of a live session for the command API
// and dashboard.
type Info struct {
	CallID          string    `json:"call_id"`
	Caller          string    `json:"caller"`
	Called          string    `json:"called"`
	State           string    `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	Turns           int       `json:"turns"`
	LocationPending bool      `json:"location_pending"`
	LocationSent    bool      `json:"location_sent"`
}
