package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// defaultTranscribeHint primes recognition with utility and telephony
// vocabulary the caller is likely to use.
const defaultTranscribeHint = "Pronto, buongiorno, buonasera, grazie, prego, " +
	"codice fiscale, codice cliente, POD, PDR, " +
	"bolletta, fattura, contatore, lettura, " +
	"appuntamento, installazione, fibra"

// WhisperTranscriber implements Transcriber with the OpenAI Whisper API.
type WhisperTranscriber struct {
	logger *logrus.Logger
	config *config.OpenAIConfig
	apiURL string
	client *http.Client
}

// NewWhisperTranscriber creates a Whisper transcriber.
func NewWhisperTranscriber(logger *logrus.Logger, cfg *config.OpenAIConfig) *WhisperTranscriber {
	return &WhisperTranscriber{
		logger: logger,
		config: cfg,
		apiURL: "https://api.openai.com/v1/audio/transcriptions",
		client: &http.Client{},
	}
}

// Name returns the provider name
func (t *WhisperTranscriber) Name() string {
	return "whisper"
}

// Initialize validates the API key
func (t *WhisperTranscriber) Initialize() error {
	if t.config.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	t.logger.Info("Whisper transcriber initialized successfully")
	return nil
}

// Transcribe posts one WAV utterance to the Whisper API.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, wavAudio []byte, language string) (*TranscriptionResult, error) {
	started := time.Now()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, errors.Wrap(err, "failed to build multipart request")
	}
	if _, err := part.Write(wavAudio); err != nil {
		return nil, errors.Wrap(err, "failed to write audio to request")
	}

	hint := t.config.TranscribeHint
	if hint == "" {
		hint = defaultTranscribeHint
	}

	fields := map[string]string{
		"model":           t.config.WhisperModel,
		"language":        language,
		"prompt":          hint,
		"response_format": "json",
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, errors.Wrap(err, "failed to write multipart field")
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize multipart request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Whisper request")
	}
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request to Whisper API").WithCode("TRANSCRIPTION_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Wrap(errors.ErrTranscriptionFailed, fmt.Sprintf("Whisper API returned status %d", resp.StatusCode)).
			WithField("response", string(payload))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode Whisper response")
	}

	elapsed := time.Since(started)
	t.logger.WithFields(logrus.Fields{
		"provider":    "whisper",
		"duration_ms": elapsed.Milliseconds(),
		"chars":       len(result.Text),
	}).Debug("Transcription received")

	return &TranscriptionResult{
		Text:     result.Text,
		Language: language,
		Provider: t.Name(),
		Elapsed:  elapsed,
	}, nil
}
