package ai

// Package ai holds the external capability providers the turn pipeline
// calls: transcription, response generation, speech synthesis and
// outbound messaging. Each capability is an interface with real
// providers plus a mock for tests.

import (
	"context"
	"time"
)

// TranscriptionResult is the outcome of transcribing one utterance.
type TranscriptionResult struct {
	Text       string
	Language   string
	Confidence float64
	Provider   string
	Elapsed    time.Duration
}

// Transcriber converts one utterance of WAV audio to text.
type Transcriber interface {
	// Name returns the provider name
	Name() string

	// Initialize validates configuration and prepares the client
	Initialize() error

	// Transcribe converts a complete WAV utterance to text
	Transcribe(ctx context.Context, wavAudio []byte, language string) (*TranscriptionResult, error)
}

// Exchange is one conversation turn sent to the responder.
type Exchange struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Responder generates the assistant's next reply.
type Responder interface {
	Name() string
	Initialize() error

	// Respond generates a reply given the system prompt and the
	// conversation so far, ending with the caller's latest input.
	Respond(ctx context.Context, systemPrompt string, history []Exchange) (string, error)
}

// SynthesisResult is raw mono 16-bit PCM at the given rate.
type SynthesisResult struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer converts reply text to speech.
type Synthesizer interface {
	Name() string
	Initialize() error
	Synthesize(ctx context.Context, text string) (*SynthesisResult, error)
}

// MessageSender delivers a text message to a phone number. It returns
// the provider's message ID.
type MessageSender interface {
	Name() string
	Initialize() error
	SendSMS(ctx context.Context, to, body string) (string, error)
}
