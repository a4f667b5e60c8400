package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// GoogleTranscriber implements Transcriber with Google Speech-to-Text.
// Each utterance goes through a synchronous Recognize call; utterances
// are short enough that streaming buys nothing.
type GoogleTranscriber struct {
	logger *logrus.Logger
	config *config.GoogleConfig
	client *speech.Client
}

// NewGoogleTranscriber creates a Google Speech-to-Text transcriber.
func NewGoogleTranscriber(logger *logrus.Logger, cfg *config.GoogleConfig) *GoogleTranscriber {
	return &GoogleTranscriber{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name
func (t *GoogleTranscriber) Name() string {
	return "google"
}

// Initialize creates the Speech-to-Text client
func (t *GoogleTranscriber) Initialize() error {
	if !t.config.Enabled {
		return fmt.Errorf("Google STT is disabled")
	}

	var clientOptions []option.ClientOption
	if t.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(t.config.APIKey))
		t.logger.Debug("Using Google STT API key authentication")
	} else if t.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(t.config.CredentialsFile))
		t.logger.WithField("credentials_file", t.config.CredentialsFile).Debug("Using Google STT credentials file")
	}

	client, err := speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}
	t.client = client

	t.logger.WithField("language", t.config.Language).Info("Google transcriber initialized successfully")
	return nil
}

// Transcribe recognizes one WAV utterance. The payload carries its own
// RIFF header, so the sample rate comes from the file.
func (t *GoogleTranscriber) Transcribe(ctx context.Context, wavAudio []byte, language string) (*TranscriptionResult, error) {
	if t.client == nil {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "Google transcriber not initialized")
	}

	started := time.Now()

	lang := t.config.Language
	if lang == "" {
		lang = language
	}

	resp, err := t.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(audio.TranscriptionRate),
			LanguageCode:    lang,
			Model:           "phone_call",
			UseEnhanced:     true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wavAudio},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Google recognize request failed").WithCode("TRANSCRIPTION_FAILED")
	}

	var (
		parts      []string
		confidence float32
		scored     int
	)
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		best := result.Alternatives[0]
		parts = append(parts, best.Transcript)
		confidence += best.Confidence
		scored++
	}
	if scored > 0 {
		confidence /= float32(scored)
	}

	text := strings.TrimSpace(strings.Join(parts, " "))
	elapsed := time.Since(started)

	t.logger.WithFields(logrus.Fields{
		"provider":    "google",
		"duration_ms": elapsed.Milliseconds(),
		"confidence":  confidence,
	}).Debug("Transcription received")

	return &TranscriptionResult{
		Text:       text,
		Language:   lang,
		Confidence: float64(confidence),
		Provider:   t.Name(),
		Elapsed:    elapsed,
	}, nil
}

// Close releases the underlying client.
func (t *GoogleTranscriber) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
