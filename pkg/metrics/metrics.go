package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Call metrics
	ActiveCalls      prometheus.Gauge
	CallsTotal       *prometheus.CounterVec
	CallDuration     prometheus.Histogram
	CallStateChanges *prometheus.CounterVec

	// Audio metrics
	FramesReceived      *prometheus.CounterVec
	FramesDropped       *prometheus.CounterVec
	UtterancesEmitted   prometheus.Counter
	UtterancesDiscarded *prometheus.CounterVec

	// Turn metrics
	TurnsTotal       *prometheus.CounterVec
	TurnStepLatency  *prometheus.HistogramVec
	TurnFailures     *prometheus.CounterVec
	EmptyTranscripts prometheus.Counter

	// Intent metrics
	IntentDetections *prometheus.CounterVec
	LocationSends    *prometheus.CounterVec

	// Event bus metrics
	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	DashboardClients prometheus.Gauge

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voiceagent_active_calls",
				Help: "Number of calls currently in progress",
			},
		)

		CallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_calls_total",
				Help: "Total number of calls handled",
			},
			[]string{"outcome"},
		)

		CallDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voiceagent_call_duration_seconds",
				Help:    "Duration of completed calls",
				Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~42min
			},
		)

		CallStateChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_call_state_changes_total",
				Help: "Total call state machine transitions",
			},
			[]string{"from", "to"},
		)

		FramesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_frames_received_total",
				Help: "Total inbound audio frames received",
			},
			[]string{"call_id"},
		)

		FramesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_frames_dropped_total",
				Help: "Total inbound audio frames dropped",
			},
			[]string{"call_id", "reason"},
		)

		UtterancesEmitted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_utterances_emitted_total",
				Help: "Total utterances emitted by the segmenter",
			},
		)

		UtterancesDiscarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_utterances_discarded_total",
				Help: "Total buffered speech segments discarded without processing",
			},
			[]string{"reason"},
		)

		TurnsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_turns_total",
				Help: "Total conversation turns processed",
			},
			[]string{"status"},
		)

		TurnStepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_turn_step_latency_seconds",
				Help:    "Latency of each turn pipeline step",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"step"},
		)

		TurnFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_turn_failures_total",
				Help: "Total turn pipeline step failures",
			},
			[]string{"step"},
		)

		EmptyTranscripts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_empty_transcripts_total",
				Help: "Total utterances that transcribed to empty text",
			},
		)

		IntentDetections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_intent_detections_total",
				Help: "Total intent classifications",
			},
			[]string{"intent"},
		)

		LocationSends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_location_sends_total",
				Help: "Total location message send attempts",
			},
			[]string{"trigger", "outcome"},
		)

		EventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_events_published_total",
				Help: "Total events published to the event bus",
			},
			[]string{"type"},
		)

		EventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_events_dropped_total",
				Help: "Total events dropped due to slow subscribers",
			},
			[]string{"subscriber"},
		)

		DashboardClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voiceagent_dashboard_clients",
				Help: "Number of connected dashboard WebSocket clients",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_amqp_published_messages_total",
				Help: "Total messages published to AMQP",
			},
			[]string{"destination"},
		)

		AMQPConnectionErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_amqp_connection_errors_total",
				Help: "Total AMQP connection errors",
			},
		)

		registry.MustRegister(
			ActiveCalls,
			CallsTotal,
			CallDuration,
			CallStateChanges,
			FramesReceived,
			FramesDropped,
			UtterancesEmitted,
			UtterancesDiscarded,
			TurnsTotal,
			TurnStepLatency,
			TurnFailures,
			EmptyTranscripts,
			IntentDetections,
			LocationSends,
			EventsPublished,
			EventsDropped,
			DashboardClients,
			AMQPPublishedMessages,
			AMQPConnectionErrors,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the Prometheus registry, or nil if Init has not run
func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler returns an HTTP handler serving the metrics registry
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveTurnStep records the latency of one turn pipeline step
func ObserveTurnStep(step string, d time.Duration) {
	if TurnStepLatency != nil {
		TurnStepLatency.WithLabelValues(step).Observe(d.Seconds())
	}
}
