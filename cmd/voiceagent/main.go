package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/ai"
	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/events"
	httpserver "voice-agent-server/pkg/http"
	"voice-agent-server/pkg/messaging"
	"voice-agent-server/pkg/metrics"
	"voice-agent-server/pkg/profile"
	"voice-agent-server/pkg/session"
	"voice-agent-server/pkg/telephony"
)

const shutdownTimeout = 15 * time.Second

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	applyLogging(cfg.Logging)

	metrics.Init(logger)

	store, err := profile.NewStore(cfg.Profile.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load conversation profile")
	}

	providers, err := buildProviders(cfg, store.Get())
	if err != nil {
		logger.WithError(err).Fatal("Failed to build capability providers")
	}

	bus := events.NewBus(logger)

	var history session.HistorySink
	var amqpClient *messaging.Client
	var forwarder *messaging.Forwarder
	if cfg.Messaging.AMQPUrl != "" {
		amqpClient = messaging.NewClient(logger, cfg.Messaging)
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, call history disabled")
			amqpClient = nil
		} else {
			history = amqpClient
			forwarder = messaging.NewForwarder(logger, amqpClient, bus)
		}
	} else {
		logger.Info("AMQP not configured, call history disabled")
	}

	manager := session.NewManager(logger)

	factory := func(callID, caller, called string, sink session.AudioSink) *session.Session {
		return session.New(session.Dependencies{
			Logger:    logger,
			Providers: providers,
			Profile:   store.Get(),
			Bus:       bus,
			History:   history,
			Sink:      sink,
		}, session.Options{
			CallID: callID,
			Caller: caller,
			Called: called,
			Segmenter: audio.SegmenterConfig{
				SilenceThresholdRMS: cfg.Segmenter.SilenceThresholdRMS,
				SilenceDurationMs:   cfg.Segmenter.SilenceDurationMs,
				MinSpeechDurationMs: cfg.Segmenter.MinSpeechDurationMs,
				MaxUtteranceMs:      cfg.Segmenter.MaxUtteranceMs,
			},
			Pipeline: cfg.Pipeline,
			Intent:   cfg.Intent,
		})
	}

	gateway := telephony.NewGateway(logger, cfg.Telephony, manager, factory)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	hub := httpserver.NewDashboardHub(logger, bus)
	go hub.Run(rootCtx)

	server := httpserver.NewServer(logger, cfg.HTTP, manager, hub, gateway)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new streams, then end live calls so their records
	// flush before the AMQP client goes away
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}
	manager.EndAll("server_shutdown")

	rootCancel()
	if forwarder != nil {
		forwarder.Stop()
	}
	bus.Close()
	if amqpClient != nil {
		amqpClient.Disconnect()
	}

	logger.Info("Shutdown complete")
}

func applyLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
}

// buildProviders wires the configured capability providers, falling
// back to mocks so the server can run end to end without API keys.
func buildProviders(cfg *config.Config, p *profile.ConversationProfile) (*ai.ProviderManager, error) {
	providers := ai.NewProviderManager(logger, cfg.Providers.Transcriber)

	if cfg.Providers.OpenAI.APIKey != "" {
		if err := providers.RegisterTranscriber(ai.NewWhisperTranscriber(logger, &cfg.Providers.OpenAI)); err != nil {
			return nil, err
		}
		cache := ai.NewPhraseCache(ai.NewOpenAISynthesizer(logger, &cfg.Providers.OpenAI), logger)
		if err := providers.SetSynthesizer(cache); err != nil {
			return nil, err
		}

		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		cache.Warm(warmCtx, []string{p.OpeningLine(), cfg.Pipeline.FallbackPhrase})
		cancel()
	} else {
		logger.Warn("OPENAI_API_KEY not set, using mock transcription and synthesis")
		providers.RegisterTranscriber(&ai.MockTranscriber{})
		providers.SetSynthesizer(&ai.MockSynthesizer{})
	}

	if cfg.Providers.Google.Enabled {
		if err := providers.RegisterTranscriber(ai.NewGoogleTranscriber(logger, &cfg.Providers.Google)); err != nil {
			logger.WithError(err).Warn("Google transcriber unavailable")
		}
	}
	if cfg.Providers.Amazon.Enabled {
		if err := providers.RegisterTranscriber(ai.NewAmazonTranscriber(logger, &cfg.Providers.Amazon)); err != nil {
			logger.WithError(err).Warn("Amazon transcriber unavailable")
		}
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		if err := providers.SetResponder(ai.NewAnthropicResponder(logger, &cfg.Providers.Anthropic)); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, using mock responder")
		providers.SetResponder(&ai.MockResponder{Reply: cfg.Pipeline.FallbackPhrase})
	}

	if cfg.Providers.Twilio.AccountSID != "" && cfg.Providers.Twilio.AuthToken != "" {
		if err := providers.SetMessageSender(ai.NewTwilioSender(logger, &cfg.Providers.Twilio)); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Twilio credentials not set, using mock message sender")
		providers.SetMessageSender(&ai.MockSender{})
	}

	return providers, nil
}
