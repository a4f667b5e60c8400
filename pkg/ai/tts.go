package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// OpenAISynthesizer implements Synthesizer with the OpenAI speech API.
// It requests raw PCM so the audio can be resampled for telephony
// without an intermediate decode.
type OpenAISynthesizer struct {
	logger *logrus.Logger
	config *config.OpenAIConfig
	apiURL string
	client *http.Client
}

// NewOpenAISynthesizer creates an OpenAI speech synthesizer.
func NewOpenAISynthesizer(logger *logrus.Logger, cfg *config.OpenAIConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		logger: logger,
		config: cfg,
		apiURL: "https://api.openai.com/v1/audio/speech",
		client: &http.Client{},
	}
}

// Name returns the provider name
func (s *OpenAISynthesizer) Name() string {
	return "openai-tts"
}

// Initialize validates the API key
func (s *OpenAISynthesizer) Initialize() error {
	if s.config.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	s.logger.WithFields(logrus.Fields{
		"voice": s.config.TTSVoice,
		"model": s.config.TTSModel,
	}).Info("OpenAI synthesizer initialized successfully")
	return nil
}

// Synthesize converts text to PCM speech.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (*SynthesisResult, error) {
	started := time.Now()

	payload, err := json.Marshal(map[string]interface{}{
		"model":           s.config.TTSModel,
		"voice":           s.config.TTSVoice,
		"input":           text,
		"response_format": "pcm",
		"speed":           s.config.TTSSpeed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode speech request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create speech request")
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request to speech API").WithCode("SYNTHESIS_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Wrap(errors.ErrSynthesisFailed, fmt.Sprintf("speech API returned status %d", resp.StatusCode)).
			WithField("response", string(body))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read synthesized audio")
	}
	if len(pcm) == 0 {
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "speech API returned empty audio")
	}

	s.logger.WithFields(logrus.Fields{
		"provider":    "openai-tts",
		"duration_ms": time.Since(started).Milliseconds(),
		"bytes":       len(pcm),
	}).Debug("Speech synthesized")

	return &SynthesisResult{
		PCM:        pcm,
		SampleRate: s.config.TTSSampleRate,
	}, nil
}
