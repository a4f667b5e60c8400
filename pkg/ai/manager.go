package ai

import (
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/errors"
)

// ProviderManager registers and serves the capability providers. A
// provider that fails Initialize is not registered; the session layer
// degrades per-capability.
type ProviderManager struct {
	logger             *logrus.Logger
	transcribers       map[string]Transcriber
	defaultTranscriber string
	responder          Responder
	synthesizer        Synthesizer
	sender             MessageSender
}

// NewProviderManager creates a provider manager.
func NewProviderManager(logger *logrus.Logger, defaultTranscriber string) *ProviderManager {
	return &ProviderManager{
		logger:             logger,
		transcribers:       make(map[string]Transcriber),
		defaultTranscriber: defaultTranscriber,
	}
}

// RegisterTranscriber initializes and registers a transcriber.
func (m *ProviderManager) RegisterTranscriber(t Transcriber) error {
	if err := t.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": t.Name(),
			"error":    err,
		}).Error("Failed to initialize transcription provider")
		return err
	}
	m.transcribers[t.Name()] = t
	m.logger.WithField("provider", t.Name()).Info("Registered transcription provider")
	return nil
}

// SetResponder initializes and installs the responder.
func (m *ProviderManager) SetResponder(r Responder) error {
	if err := r.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": r.Name(),
			"error":    err,
		}).Error("Failed to initialize response provider")
		return err
	}
	m.responder = r
	m.logger.WithField("provider", r.Name()).Info("Registered response provider")
	return nil
}

// SetSynthesizer initializes and installs the synthesizer.
func (m *ProviderManager) SetSynthesizer(s Synthesizer) error {
	if err := s.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": s.Name(),
			"error":    err,
		}).Error("Failed to initialize synthesis provider")
		return err
	}
	m.synthesizer = s
	m.logger.WithField("provider", s.Name()).Info("Registered synthesis provider")
	return nil
}

// SetMessageSender initializes and installs the message sender.
func (m *ProviderManager) SetMessageSender(s MessageSender) error {
	if err := s.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": s.Name(),
			"error":    err,
		}).Error("Failed to initialize message provider")
		return err
	}
	m.sender = s
	m.logger.WithField("provider", s.Name()).Info("Registered message provider")
	return nil
}

// Transcriber returns the named transcriber, falling back to the
// default when name is empty.
func (m *ProviderManager) Transcriber(name string) (Transcriber, error) {
	if name == "" {
		name = m.defaultTranscriber
	}
	t, ok := m.transcribers[name]
	if !ok {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "no transcriber registered").
			WithField("provider", name)
	}
	return t, nil
}

// DefaultTranscriber returns the configured default transcriber.
func (m *ProviderManager) DefaultTranscriber() (Transcriber, error) {
	return m.Transcriber("")
}

// Responder returns the installed responder.
func (m *ProviderManager) Responder() (Responder, error) {
	if m.responder == nil {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "no responder registered")
	}
	return m.responder, nil
}

// Synthesizer returns the installed synthesizer.
func (m *ProviderManager) Synthesizer() (Synthesizer, error) {
	if m.synthesizer == nil {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "no synthesizer registered")
	}
	return m.synthesizer, nil
}

// MessageSender returns the installed message sender, which may be
// absent when outbound SMS is not configured.
func (m *ProviderManager) MessageSender() (MessageSender, error) {
	if m.sender == nil {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "no message sender registered")
	}
	return m.sender, nil
}
