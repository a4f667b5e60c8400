package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// TwilioSender implements MessageSender with the Twilio messages API.
type TwilioSender struct {
	logger  *logrus.Logger
	config  *config.TwilioConfig
	baseURL string
	client  *http.Client
}

// NewTwilioSender creates a Twilio SMS sender.
func NewTwilioSender(logger *logrus.Logger, cfg *config.TwilioConfig) *TwilioSender {
	return &TwilioSender{
		logger:  logger,
		config:  cfg,
		baseURL: "https://api.twilio.com",
		client:  &http.Client{},
	}
}

// Name returns the provider name
func (s *TwilioSender) Name() string {
	return "twilio"
}

// Initialize validates credentials
func (s *TwilioSender) Initialize() error {
	if s.config.AccountSID == "" || s.config.AuthToken == "" || s.config.FromNumber == "" {
		return fmt.Errorf("Twilio requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
	}
	s.logger.WithField("from", s.config.FromNumber).Info("Twilio sender initialized successfully")
	return nil
}

// SendSMS posts one message and returns the Twilio message SID.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.config.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "failed to create Twilio request")
	}
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to send request to Twilio API").WithCode("MESSAGE_SEND_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.Wrap(errors.ErrMessageSendFailed, fmt.Sprintf("Twilio API returned status %d", resp.StatusCode)).
			WithField("response", string(payload))
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "failed to decode Twilio response")
	}

	s.logger.WithFields(logrus.Fields{
		"to":  to,
		"sid": result.SID,
	}).Info("SMS sent")

	return result.SID, nil
}
