package telephony

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-agent-server/pkg/ai"
	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/events"
	"voice-agent-server/pkg/metrics"
	"voice-agent-server/pkg/profile"
	"voice-agent-server/pkg/session"
)

func TestMain(m *testing.M) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	metrics.Init(logger)
	m.Run()
}

type recordingHistory struct {
	mu      sync.Mutex
	records []*session.CallRecord
}

func (h *recordingHistory) Store(ctx context.Context, record *session.CallRecord) error {
	h.mu.Lock()
	h.records = append(h.records, record)
	h.mu.Unlock()
	return nil
}

func (h *recordingHistory) stored() []*session.CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*session.CallRecord, len(h.records))
	copy(out, h.records)
	return out
}

type testGateway struct {
	gateway *Gateway
	manager *session.Manager
	history *recordingHistory
	server  *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	providers := ai.NewProviderManager(logger, "mock")
	require.NoError(t, providers.RegisterTranscriber(&ai.MockTranscriber{Script: []string{"Buongiorno, ho un pacco da consegnare"}}))
	require.NoError(t, providers.SetResponder(&ai.MockResponder{Reply: "Sì, Via Roma dodici."}))
	require.NoError(t, providers.SetSynthesizer(&ai.MockSynthesizer{}))
	require.NoError(t, providers.SetMessageSender(&ai.MockSender{}))

	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)

	history := &recordingHistory{}
	manager := session.NewManager(logger)

	factory := func(callID, caller, called string, sink session.AudioSink) *session.Session {
		return session.New(session.Dependencies{
			Logger:    logger,
			Providers: providers,
			Profile:   profile.Default(),
			Bus:       bus,
			History:   history,
			Sink:      sink,
		}, session.Options{
			CallID: callID,
			Caller: caller,
			Called: called,
			Segmenter: audio.SegmenterConfig{
				SilenceThresholdRMS: 500,
				SilenceDurationMs:   1200,
				MinSpeechDurationMs: 500,
				MaxUtteranceMs:      30000,
			},
			Pipeline: config.PipelineConfig{
				ContextTurns:   12,
				StepTimeout:    2 * time.Second,
				GoodbyePhrases: config.DefaultGoodbyePhrases,
				FallbackPhrase: "Mi scusi, un momento per favore.",
				Language:       "it",
			},
		})
	}

	gateway := NewGateway(logger, config.TelephonyConfig{
		SampleRate:         8000,
		OutboundChunkBytes: 640,
		OutboundPacing:     time.Millisecond,
	}, manager, factory)

	server := httptest.NewServer(http.HandlerFunc(gateway.HandleStream))
	t.Cleanup(server.Close)

	return &testGateway{gateway: gateway, manager: manager, history: history, server: server}
}

func (tg *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(tg.server.URL, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendStart(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendStartWithEncoding(t, conn, "audio/x-mulaw")
}

func sendStartWithEncoding(t *testing.T, conn *websocket.Conn, encoding string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(streamMessage{Event: "connected"}))
	require.NoError(t, conn.WriteJSON(streamMessage{
		Event: "start",
		Start: &startMessage{
			StreamSid: "MZ-stream-1",
			CallSid:   "CA-gw-1",
			CustomParameters: map[string]string{
				"call_sid": "CA-gw-1",
				"caller":   "+391234567890",
				"called":   "+390550000000",
			},
			MediaFormat: mediaFormat{Encoding: encoding, SampleRate: 8000, Channels: 1},
		},
	}))
}

func sendFrames(t *testing.T, conn *websocket.Conn, seq *int, payload []byte, count int) {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString(payload)
	for i := 0; i < count; i++ {
		*seq++
		require.NoError(t, conn.WriteJSON(streamMessage{
			Event:          "media",
			SequenceNumber: strconv.Itoa(*seq),
			Media:          &mediaMessage{Payload: encoded},
		}))
	}
}

// readUntilMark consumes outbound messages until the named playback
// mark, returning the μ-law bytes received along the way.
func readUntilMark(t *testing.T, conn *websocket.Conn, name string) []byte {
	t.Helper()
	var received []byte
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for {
		var msg struct {
			Event string `json:"event"`
			Media *struct {
				Payload string `json:"payload"`
			} `json:"media"`
			Mark *struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		require.NoError(t, conn.ReadJSON(&msg))

		switch msg.Event {
		case "media":
			require.NotNil(t, msg.Media)
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			require.NoError(t, err)
			received = append(received, chunk...)
		case "mark":
			require.NotNil(t, msg.Mark)
			if msg.Mark.Name == name {
				return received
			}
		}
	}
}

func gwVoicedPCM() []byte {
	pcm := make([]byte, 320)
	for i := 0; i < 160; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	return pcm
}

func gwVoicedPayload() []byte {
	return audio.PCMToMuLaw(gwVoicedPCM())
}

func gwSilencePayload() []byte {
	out := make([]byte, 160)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

func TestGatewayFullCall(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dial(t)

	sendStart(t, conn)

	greeting := readUntilMark(t, conn, "greeting")
	assert.NotEmpty(t, greeting, "greeting audio reached the caller")

	var seq int
	sendFrames(t, conn, &seq, gwVoicedPayload(), 30)
	sendFrames(t, conn, &seq, gwSilencePayload(), 65)

	reply := readUntilMark(t, conn, "turn-1")
	assert.NotEmpty(t, reply, "turn reply audio reached the caller")

	require.NoError(t, conn.WriteJSON(streamMessage{Event: "stop", Stop: &stopMessage{CallSid: "CA-gw-1"}}))

	require.Eventually(t, func() bool {
		return tg.manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	records := tg.history.stored()
	require.Len(t, records, 1)
	assert.Equal(t, "CA-gw-1", records[0].CallID)
	assert.Equal(t, "+391234567890", records[0].Caller)
	assert.Equal(t, "caller_hangup", records[0].Summary.Reason)
	require.Len(t, records[0].Turns, 1)
	assert.Equal(t, "Buongiorno, ho un pacco da consegnare", records[0].Turns[0].CallerText)
	assert.Equal(t, "Sì, Via Roma dodici.", records[0].Turns[0].ReplyText)
}

func TestGatewayTransportDrop(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dial(t)

	sendStart(t, conn)
	readUntilMark(t, conn, "greeting")

	// Abrupt close without a stop event
	conn.Close()

	require.Eventually(t, func() bool {
		return tg.manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	records := tg.history.stored()
	require.Len(t, records, 1)
	assert.Equal(t, "transport_error", records[0].Summary.Reason)
	assert.Empty(t, records[0].Turns)
}

func TestGatewayOutboundChunking(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dial(t)
	sendStart(t, conn)

	// Greeting PCM is 480 bytes (240 samples) at 24kHz, which resamples
	// to 80 samples of 8kHz μ-law: exactly one outbound chunk
	greeting := readUntilMark(t, conn, "greeting")
	assert.Len(t, greeting, 80)
}

func TestGatewayLinearEncodingTranscoded(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dial(t)

	sendStartWithEncoding(t, conn, "audio/l16")
	readUntilMark(t, conn, "greeting")

	// Raw 16-bit PCM frames: the gateway transcodes them to μ-law
	// before the segmenter sees them
	var seq int
	sendFrames(t, conn, &seq, gwVoicedPCM(), 30)
	sendFrames(t, conn, &seq, make([]byte, 320), 65)

	reply := readUntilMark(t, conn, "turn-1")
	assert.NotEmpty(t, reply, "linear-encoded speech produced a turn")

	require.NoError(t, conn.WriteJSON(streamMessage{Event: "stop", Stop: &stopMessage{CallSid: "CA-gw-1"}}))
	require.Eventually(t, func() bool {
		return tg.manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	records := tg.history.stored()
	require.Len(t, records, 1)
	require.Len(t, records[0].Turns, 1)
	assert.Equal(t, "Buongiorno, ho un pacco da consegnare", records[0].Turns[0].CallerText)
}

func TestGatewayIgnoresMalformedMessages(t *testing.T) {
	tg := newTestGateway(t)
	conn := tg.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendStart(t, conn)

	greeting := readUntilMark(t, conn, "greeting")
	assert.NotEmpty(t, greeting, "gateway survived the malformed message")

	// Media with a bad payload and a bad sequence number are dropped
	require.NoError(t, conn.WriteJSON(streamMessage{
		Event: "media", SequenceNumber: "1",
		Media: &mediaMessage{Payload: "@@not-base64@@"},
	}))
	require.NoError(t, conn.WriteJSON(streamMessage{
		Event: "media", SequenceNumber: "abc",
		Media: &mediaMessage{Payload: base64.StdEncoding.EncodeToString(gwSilencePayload())},
	}))

	require.NoError(t, conn.WriteJSON(streamMessage{Event: "stop", Stop: &stopMessage{}}))
	require.Eventually(t, func() bool {
		return tg.manager.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
