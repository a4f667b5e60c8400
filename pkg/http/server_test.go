package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

type noopStream struct{}

func (noopStream) HandleStream(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

type noopSink struct{}

func (noopSink) PlayAudio(ctx context.Context, mulaw []byte, label string) error { return nil }

type apiFixture struct {
	server  *httptest.Server
	manager *session.Manager
	sender  *ai.MockSender
	session *session.Session
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	providers := ai.NewProviderManager(logger, "mock")
	sender := &ai.MockSender{}
	require.NoError(t, providers.RegisterTranscriber(&ai.MockTranscriber{}))
	require.NoError(t, providers.SetResponder(&ai.MockResponder{Reply: "Sì."}))
	require.NoError(t, providers.SetSynthesizer(&ai.MockSynthesizer{}))
	require.NoError(t, providers.SetMessageSender(sender))

	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)

	sess := session.New(session.Dependencies{
		Logger:    logger,
		Providers: providers,
		Profile:   profile.Default(),
		Bus:       bus,
		Sink:      noopSink{},
	}, session.Options{
		CallID: "CA-api-1",
		Caller: "+391234567890",
		Called: "+390550000000",
		Segmenter: audio.SegmenterConfig{
			SilenceThresholdRMS: 500,
			SilenceDurationMs:   1200,
			MinSpeechDurationMs: 500,
			MaxUtteranceMs:      30000,
		},
		Pipeline: config.PipelineConfig{
			ContextTurns:   12,
			StepTimeout:    time.Second,
			FallbackPhrase: "Mi scusi.",
			Language:       "it",
		},
		Intent: config.IntentConfig{
			Enabled:     true,
			Countdown:   time.Hour,
			SendTimeout: time.Second,
		},
	})
	t.Cleanup(func() { sess.End("test_cleanup") })

	manager := session.NewManager(logger)
	require.NoError(t, manager.Add(sess))

	hub := NewDashboardHub(logger, bus)
	srv := NewServer(logger, config.HTTPConfig{Port: 0, EnableMetrics: true}, manager, hub, noopStream{})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, manager: manager, sender: sender, session: sess}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]interface{}
	status := getJSON(t, f.server.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["active_calls"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListCalls(t *testing.T) {
	f := newAPIFixture(t)

	var body struct {
		Calls []session.Info `json:"calls"`
		Count int            `json:"count"`
	}
	status := getJSON(t, f.server.URL+"/api/calls", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "CA-api-1", body.Calls[0].CallID)
	assert.Equal(t, "+391234567890", body.Calls[0].Caller)
}

func TestGetCall(t *testing.T) {
	f := newAPIFixture(t)

	var info session.Info
	status := getJSON(t, f.server.URL+"/api/calls/CA-api-1", &info)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CA-api-1", info.CallID)

	var errBody map[string]interface{}
	status = getJSON(t, f.server.URL+"/api/calls/CA-missing", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SESSION_NOT_FOUND", errBody["code"])
}

func TestHangup(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]interface{}
	status := postJSON(t, f.server.URL+"/api/calls/CA-api-1/hangup", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ended", body["status"])
	assert.Equal(t, 0, f.manager.Count())
	assert.True(t, f.session.Done())
}

func TestLocationSendAndConflict(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]interface{}
	status := postJSON(t, f.server.URL+"/api/calls/CA-api-1/location/send", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sent", body["status"])
	assert.Len(t, f.sender.Messages(), 1)

	status = postJSON(t, f.server.URL+"/api/calls/CA-api-1/location/send", &body)
	assert.Equal(t, http.StatusConflict, status)
}

func TestLocationCancelNothingPending(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]interface{}
	status := postJSON(t, f.server.URL+"/api/calls/CA-api-1/location/cancel", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "nothing_pending", body["status"])
}
