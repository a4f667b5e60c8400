package ai

import (
	"context"
	"sync"
	"time"
)

// Mock providers for tests and for running the server without any API
// keys configured.

// MockTranscriber returns canned transcripts in order, repeating the
// last one when the script runs out.
type MockTranscriber struct {
	mu      sync.Mutex
	Script  []string
	Err     error
	Delay   time.Duration
	Calls   int
	FailFor int // fail the first N calls, then succeed
}

func (m *MockTranscriber) Name() string      { return "mock" }
func (m *MockTranscriber) Initialize() error { return nil }

func (m *MockTranscriber) Transcribe(ctx context.Context, wavAudio []byte, language string) (*TranscriptionResult, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.Calls
	m.Calls++

	if m.Err != nil && call < m.FailFor {
		return nil, m.Err
	}
	if m.Err != nil && m.FailFor == 0 {
		return nil, m.Err
	}

	text := ""
	if len(m.Script) > 0 {
		idx := call
		if idx >= len(m.Script) {
			idx = len(m.Script) - 1
		}
		text = m.Script[idx]
	}
	return &TranscriptionResult{Text: text, Language: language, Provider: "mock"}, nil
}

// CallCount returns how many times Transcribe has been called.
func (m *MockTranscriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockResponder echoes a fixed reply and records the history it saw.
type MockResponder struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Delay   time.Duration
	History [][]Exchange
}

func (m *MockResponder) Name() string      { return "mock" }
func (m *MockResponder) Initialize() error { return nil }

func (m *MockResponder) Respond(ctx context.Context, systemPrompt string, history []Exchange) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	snapshot := make([]Exchange, len(history))
	copy(snapshot, history)
	m.History = append(m.History, snapshot)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}

// LastHistory returns the history of the most recent Respond call.
func (m *MockResponder) LastHistory() []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.History) == 0 {
		return nil
	}
	return m.History[len(m.History)-1]
}

// MockSynthesizer returns a fixed PCM payload for any text.
type MockSynthesizer struct {
	mu    sync.Mutex
	PCM   []byte
	Rate  int
	Err   error
	Texts []string
}

func (m *MockSynthesizer) Name() string      { return "mock" }
func (m *MockSynthesizer) Initialize() error { return nil }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (*SynthesisResult, error) {
	m.mu.Lock()
	m.Texts = append(m.Texts, text)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	rate := m.Rate
	if rate == 0 {
		rate = 24000
	}
	pcm := m.PCM
	if pcm == nil {
		pcm = make([]byte, 480) // 10ms at 24kHz
	}
	return &SynthesisResult{PCM: pcm, SampleRate: rate}, nil
}

// Synthesized returns the texts synthesized so far.
func (m *MockSynthesizer) Synthesized() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Texts))
	copy(out, m.Texts)
	return out
}

// MockSender records sent messages.
type MockSender struct {
	mu   sync.Mutex
	Err  error
	Sent []SentMessage
}

// SentMessage is one recorded SendSMS call.
type SentMessage struct {
	To   string
	Body string
}

func (m *MockSender) Name() string      { return "mock" }
func (m *MockSender) Initialize() error { return nil }

func (m *MockSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	m.mu.Unlock()
	return "mock-message-id", nil
}

// Messages returns the messages sent so far.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
