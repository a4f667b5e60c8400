package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// AnthropicResponder implements Responder with the Anthropic messages API.
type AnthropicResponder struct {
	logger *logrus.Logger
	config *config.AnthropicConfig
	apiURL string
	client *http.Client
}

// NewAnthropicResponder creates an Anthropic responder.
func NewAnthropicResponder(logger *logrus.Logger, cfg *config.AnthropicConfig) *AnthropicResponder {
	return &AnthropicResponder{
		logger: logger,
		config: cfg,
		apiURL: "https://api.anthropic.com/v1/messages",
		client: &http.Client{},
	}
}

// Name returns the provider name
func (r *AnthropicResponder) Name() string {
	return "anthropic"
}

// Initialize validates the API key
func (r *AnthropicResponder) Initialize() error {
	if r.config.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set in the environment")
	}
	r.logger.WithField("model", r.config.Model).Info("Anthropic responder initialized successfully")
	return nil
}

type anthropicRequest struct {
	Model     string     `json:"model"`
	MaxTokens int        `json:"max_tokens"`
	System    string     `json:"system"`
	Messages  []Exchange `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Respond generates the next reply from the conversation so far.
func (r *AnthropicResponder) Respond(ctx context.Context, systemPrompt string, history []Exchange) (string, error) {
	started := time.Now()

	payload, err := json.Marshal(anthropicRequest{
		Model:     r.config.Model,
		MaxTokens: r.config.MaxTokens,
		System:    systemPrompt,
		Messages:  history,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode Anthropic request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create Anthropic request")
	}
	req.Header.Set("x-api-key", r.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to send request to Anthropic API").WithCode("GENERATION_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.Wrap(errors.ErrGenerationFailed, fmt.Sprintf("Anthropic API returned status %d", resp.StatusCode)).
			WithField("response", string(body))
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "failed to decode Anthropic response")
	}

	var reply strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", errors.Wrap(errors.ErrGenerationFailed, "Anthropic response contained no text")
	}

	r.logger.WithFields(logrus.Fields{
		"provider":      "anthropic",
		"duration_ms":   time.Since(started).Milliseconds(),
		"input_tokens":  result.Usage.InputTokens,
		"output_tokens": result.Usage.OutputTokens,
	}).Debug("Reply generated")

	return text, nil
}
