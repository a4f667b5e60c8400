package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/ai"
	"voice-agent-server/pkg/analytics"
	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
	"voice-agent-server/pkg/events"
	"voice-agent-server/pkg/intent"
	"voice-agent-server/pkg/metrics"
	"voice-agent-server/pkg/profile"
)

// utteranceQueueDepth bounds utterances waiting for the turn loop. A
// caller cannot realistically produce more than a couple while a turn
// is in flight.
const utteranceQueueDepth = 4

// historyStoreTimeout bounds the final call record flush.
const historyStoreTimeout = 5 * time.Second

// Dependencies are the shared collaborators a session uses.
type Dependencies struct {
	Logger    *logrus.Logger
	Providers *ai.ProviderManager
	Profile   *profile.ConversationProfile
	Bus       *events.Bus
	History   HistorySink
	Sink      AudioSink
}

// Options snapshot per-call configuration at session creation. Runtime
// config changes affect future calls only.
type Options struct {
	CallID    string
	Caller    string
	Called    string
	Segmenter audio.SegmenterConfig
	Pipeline  config.PipelineConfig
	Intent    config.IntentConfig
}

// Session drives one phone call: it segments inbound audio, runs the
// transcribe/respond/synthesize pipeline one turn at a time, watches
// for delivery intent and tears everything down exactly once.
type Session struct {
	deps Dependencies
	opts Options

	logger *logrus.Entry

	stateMu   sync.Mutex
	state     State
	startedAt time.Time

	segMu     sync.Mutex
	segmenter *audio.Segmenter

	utterances chan *audio.Utterance
	closing    chan struct{}
	loopDone   chan struct{}

	// speaking gates inbound media while the assistant's reply plays,
	// so the segmenter never hears the assistant (no barge-in)
	speaking int32

	turnMu sync.Mutex
	turns  []Turn

	systemPrompt string
	classifier   intent.Classifier

	locMu        sync.Mutex
	countdown    *intent.Countdown
	locationSent bool

	recorder *analytics.Recorder
	endOnce  sync.Once
}

// New creates a session in Connecting state and starts its turn loop.
func New(deps Dependencies, opts Options) *Session {
	logger := deps.Logger.WithFields(logrus.Fields{
		"call_id": opts.CallID,
		"caller":  opts.Caller,
	})

	s := &Session{
		deps:         deps,
		opts:         opts,
		logger:       logger,
		state:        StateConnecting,
		startedAt:    time.Now(),
		segmenter:    audio.NewSegmenter(opts.Segmenter, deps.Logger, opts.CallID),
		utterances:   make(chan *audio.Utterance, utteranceQueueDepth),
		closing:      make(chan struct{}),
		loopDone:     make(chan struct{}),
		systemPrompt: deps.Profile.BuildSystemPrompt(),
		classifier:   intent.NewDeliveryClassifier(),
		recorder:     analytics.NewRecorder(opts.CallID, opts.Caller, opts.Called),
	}

	metrics.ActiveCalls.Inc()
	deps.Bus.Publish(events.Event{
		Type:   events.TypeCallStarted,
		CallID: opts.CallID,
		Data: map[string]interface{}{
			"caller": opts.Caller,
			"called": opts.Called,
		},
	})
	logger.Info("Call session created")

	go s.turnLoop()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.stateMu.Lock()
	from := s.state
	if from == to {
		s.stateMu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		s.stateMu.Unlock()
		return invalidTransition(s.opts.CallID, from, to)
	}
	s.state = to
	s.stateMu.Unlock()

	metrics.CallStateChanges.WithLabelValues(from.String(), to.String()).Inc()
	s.recorder.Record(analytics.EventStateChanged, 0, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeStateChanged,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		},
	})
	s.logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("State changed")
	return nil
}

// StreamStarted moves the session to Streaming and speaks the opening
// greeting. Called by the gateway when the media stream start event
// arrives.
func (s *Session) StreamStarted() error {
	if err := s.transition(StateStreaming); err != nil {
		return err
	}

	greeting := s.deps.Profile.OpeningLine()
	s.recorder.Record(analytics.EventGreetingStarted, 0, nil)

	synth, err := s.synthesize(greeting)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to synthesize greeting, continuing without it")
		return nil
	}
	s.play(synth, "greeting")
	s.recorder.Record(analytics.EventGreetingCompleted, 0, nil)
	return nil
}

// Ingest consumes one inbound media frame. It never blocks: frames
// arriving outside Streaming or while the assistant is speaking are
// dropped, and a completed utterance that cannot be queued is
// discarded.
func (s *Session) Ingest(frame audio.Frame) error {
	if s.State() != StateStreaming {
		metrics.FramesDropped.WithLabelValues(s.opts.CallID, "not_streaming").Inc()
		return nil
	}

	metrics.FramesReceived.WithLabelValues(s.opts.CallID).Inc()

	if atomic.LoadInt32(&s.speaking) == 1 {
		metrics.FramesDropped.WithLabelValues(s.opts.CallID, "agent_speaking").Inc()
		return nil
	}

	s.segMu.Lock()
	utterance, err := s.segmenter.Feed(frame)
	s.segMu.Unlock()
	if err != nil {
		return err
	}
	if utterance == nil {
		return nil
	}

	s.recorder.Record(analytics.EventSilenceDetected, 0, map[string]interface{}{
		"speech_ms": utterance.Duration.Milliseconds(),
	})
	s.enqueue(utterance)
	return nil
}

func (s *Session) enqueue(utterance *audio.Utterance) {
	select {
	case s.utterances <- utterance:
	default:
		metrics.UtterancesDiscarded.WithLabelValues("queue_full").Inc()
		s.logger.Warn("Utterance queue full, discarding segment")
	}
}

func (s *Session) turnLoop() {
	defer close(s.loopDone)
	for {
		select {
		case utterance := <-s.utterances:
			s.processTurn(utterance)
		case <-s.closing:
			// Drain trailing utterances queued by a graceful stop
			for {
				select {
				case utterance := <-s.utterances:
					s.processTurn(utterance)
				default:
					return
				}
			}
		}
	}
}

// processTurn runs one utterance through the full pipeline. One turn at
// a time; the caller's next utterance waits in the queue.
func (s *Session) processTurn(utterance *audio.Utterance) {
	if state := s.State(); state == StateError || state == StateEnded {
		return
	}

	turnStart := time.Now()
	s.turnMu.Lock()
	index := len(s.turns) + 1
	s.turnMu.Unlock()

	logger := s.logger.WithField("turn", index)
	timing := analytics.TurnTiming{TurnIndex: index}

	// Transcribe
	s.publishStatus(index, "transcribing")
	s.recorder.Record(analytics.EventTranscriptionStarted, index, nil)
	wav := audio.PrepareForTranscription(utterance.Audio)

	stepStart := time.Now()
	result, err := s.transcribe(index, wav)
	timing.TranscriptionMs = time.Since(stepStart)
	metrics.ObserveTurnStep("transcription", timing.TranscriptionMs)

	if err != nil {
		logger.WithError(err).Error("Transcription failed, dropping turn")
		s.recorder.Record(analytics.EventTranscriptionFailed, index, nil)
		s.recorder.Flag(index, analytics.FlagTurnFailed)
		metrics.TurnFailures.WithLabelValues("transcription").Inc()
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		s.publishTurnFailed(index, "transcription", err)
		return
	}

	text := strings.TrimSpace(result.Text)
	s.recorder.Record(analytics.EventTranscriptionCompleted, index, map[string]interface{}{
		"text":     text,
		"provider": result.Provider,
	})

	if text == "" {
		logger.Debug("Empty transcript, skipping turn")
		metrics.EmptyTranscripts.Inc()
		metrics.TurnsTotal.WithLabelValues("empty").Inc()
		s.recorder.Flag(index, analytics.FlagEmptyTranscript)
		return
	}

	s.publishTranscript(index, "caller", text)
	go s.watchIntent(text, "caller")

	// Generate
	var (
		reply    string
		fallback bool
	)
	if quick, ok := profile.QuickResponse(text); ok {
		logger.Debug("Quick response matched")
		reply = quick
	} else {
		s.publishStatus(index, "generating")
		s.recorder.Record(analytics.EventGenerationStarted, index, nil)

		stepStart = time.Now()
		reply, err = s.generate(text)
		timing.GenerationMs = time.Since(stepStart)
		metrics.ObserveTurnStep("generation", timing.GenerationMs)

		if err != nil {
			logger.WithError(err).Error("Reply generation failed, using fallback phrase")
			s.recorder.Record(analytics.EventGenerationFailed, index, nil)
			s.recorder.Flag(index, analytics.FlagFallbackReply)
			metrics.TurnFailures.WithLabelValues("generation").Inc()
			s.publishTurnFailed(index, "generation", err)
			reply = s.opts.Pipeline.FallbackPhrase
			fallback = true
		} else {
			s.recorder.Record(analytics.EventGenerationCompleted, index, map[string]interface{}{
				"chars": len(reply),
			})
		}
	}

	goodbye := s.isGoodbye(reply)

	// Synthesize
	s.publishStatus(index, "synthesizing")
	s.recorder.Record(analytics.EventSynthesisStarted, index, nil)

	stepStart = time.Now()
	synth, err := s.synthesize(reply)
	timing.SynthesisMs = time.Since(stepStart)
	metrics.ObserveTurnStep("synthesis", timing.SynthesisMs)

	if err != nil && !fallback {
		// One more try with the fixed apology, which the phrase cache
		// usually serves without a network call
		logger.WithError(err).Error("Synthesis failed, trying fallback phrase")
		s.recorder.Record(analytics.EventSynthesisFailed, index, nil)
		s.recorder.Flag(index, analytics.FlagFallbackReply)
		metrics.TurnFailures.WithLabelValues("synthesis").Inc()
		reply = s.opts.Pipeline.FallbackPhrase
		fallback = true
		goodbye = false
		synth, err = s.synthesize(reply)
	}
	if err != nil {
		logger.WithError(err).Error("Synthesis failed, turn ends without a reply")
		s.recorder.Record(analytics.EventSynthesisFailed, index, nil)
		s.recorder.Flag(index, analytics.FlagTurnFailed)
		metrics.TurnFailures.WithLabelValues("synthesis").Inc()
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		s.publishTurnFailed(index, "synthesis", err)
		s.appendTurn(Turn{
			Index: index, CallerText: text, StartedAt: turnStart,
			CompletedAt: time.Now(), Timing: timing, Fallback: fallback,
		})
		return
	}
	s.recorder.Record(analytics.EventSynthesisCompleted, index, nil)

	// Play
	s.recorder.Record(analytics.EventPlaybackStarted, index, nil)
	s.play(synth, fmt.Sprintf("turn-%d", index))
	s.recorder.Record(analytics.EventPlaybackCompleted, index, nil)

	timing.Total = time.Since(turnStart)
	s.appendTurn(Turn{
		Index:       index,
		CallerText:  text,
		ReplyText:   reply,
		StartedAt:   turnStart,
		CompletedAt: time.Now(),
		Timing:      timing,
		Fallback:    fallback,
	})
	s.recorder.RecordTurn(timing)

	if fallback {
		metrics.TurnsTotal.WithLabelValues("fallback").Inc()
	} else {
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
	}

	s.publishTranscript(index, "assistant", reply)
	go s.watchIntent(reply, "assistant")

	logger.WithFields(logrus.Fields{
		"total_ms": timing.Total.Milliseconds(),
		"goodbye":  goodbye,
	}).Info("Turn completed")

	if goodbye {
		// The reply is already on the wire; teardown runs off the loop
		go s.End("goodbye")
	}
}

// transcribe calls the default transcriber with one retry.
func (s *Session) transcribe(index int, wav []byte) (*ai.TranscriptionResult, error) {
	transcriber, err := s.deps.Providers.DefaultTranscriber()
	if err != nil {
		return nil, err
	}

	var result *ai.TranscriptionResult
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Pipeline.StepTimeout)
		result, err = transcriber.Transcribe(ctx, wav, s.opts.Pipeline.Language)
		cancel()
		if err == nil {
			return result, nil
		}
		if attempt == 0 {
			s.logger.WithError(err).Warn("Transcription failed, retrying once")
			s.recorder.Flag(index, analytics.FlagAPIRetry)
			time.Sleep(200 * time.Millisecond)
		}
	}
	return nil, errors.Wrap(err, "transcription failed after retry")
}

func (s *Session) generate(current string) (string, error) {
	responder, err := s.deps.Providers.Responder()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Pipeline.StepTimeout)
	defer cancel()
	return responder.Respond(ctx, s.systemPrompt, s.buildHistory(current))
}

func (s *Session) synthesize(text string) (*ai.SynthesisResult, error) {
	synthesizer, err := s.deps.Providers.Synthesizer()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Pipeline.StepTimeout)
	defer cancel()
	return synthesizer.Synthesize(ctx, text)
}

// play converts synthesized PCM to telephony μ-law and blocks until the
// sink has taken it. Inbound media is ignored for the duration.
func (s *Session) play(synth *ai.SynthesisResult, label string) {
	mulaw := audio.PrepareForTelephony(synth.PCM, synth.SampleRate)
	atomic.StoreInt32(&s.speaking, 1)
	defer atomic.StoreInt32(&s.speaking, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.deps.Sink.PlayAudio(ctx, mulaw, label); err != nil {
		s.logger.WithError(err).WithField("label", label).Error("Failed to play audio")
	}
}

// buildHistory assembles the responder conversation: the last N turns
// as user/assistant pairs, then the caller's latest input.
func (s *Session) buildHistory(current string) []ai.Exchange {
	s.turnMu.Lock()
	turns := s.turns
	if n := s.opts.Pipeline.ContextTurns; len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	history := make([]ai.Exchange, 0, len(turns)*2+1)
	for _, t := range turns {
		if t.CallerText != "" {
			history = append(history, ai.Exchange{Role: "user", Content: t.CallerText})
		}
		if t.ReplyText != "" {
			history = append(history, ai.Exchange{Role: "assistant", Content: t.ReplyText})
		}
	}
	s.turnMu.Unlock()

	return append(history, ai.Exchange{Role: "user", Content: current})
}

func (s *Session) appendTurn(turn Turn) {
	s.turnMu.Lock()
	s.turns = append(s.turns, turn)
	s.turnMu.Unlock()
}

// Turns returns a copy of the completed turns.
func (s *Session) Turns() []Turn {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) isGoodbye(reply string) bool {
	lower := strings.ToLower(reply)
	for _, phrase := range s.opts.Pipeline.GoodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (s *Session) publishStatus(index int, status string) {
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeProcessingStatus,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"turn":   index,
			"status": status,
		},
	})
}

func (s *Session) publishTranscript(index int, speaker, text string) {
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeTranscript,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"turn":    index,
			"speaker": speaker,
			"text":    text,
		},
	})
}

func (s *Session) publishTurnFailed(index int, step string, err error) {
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeTurnFailed,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"turn":  index,
			"step":  step,
			"error": err.Error(),
		},
	})
}

// HandleStop processes a graceful media stream end: trailing buffered
// speech becomes a final turn, then the session ends.
func (s *Session) HandleStop() {
	s.segMu.Lock()
	trailing := s.segmenter.Flush()
	s.segMu.Unlock()
	if trailing != nil {
		s.enqueue(trailing)
	}
	s.End("caller_hangup")
}

// Fail tears the session down after a transport error. Buffered audio
// is discarded, not processed.
func (s *Session) Fail(err error) {
	s.logger.WithError(err).Error("Call transport failed")
	if terr := s.transition(StateError); terr != nil {
		return // already ended
	}
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeError,
		CallID: s.opts.CallID,
		Data:   map[string]interface{}{"error": err.Error()},
	})
	s.End("transport_error")
}

// End tears the session down exactly once: the turn loop drains, the
// countdown is cancelled, the call record flushes to the history sink
// and the state reaches Ended. Safe to call from any goroutine,
// including the turn loop itself.
func (s *Session) End(reason string) {
	s.endOnce.Do(func() {
		s.logger.WithField("reason", reason).Info("Ending call session")

		// Ending is unreachable only from Error, where the state is
		// already terminal-bound
		_ = s.transition(StateEnding)

		s.locMu.Lock()
		if s.countdown != nil {
			s.countdown.Cancel()
		}
		s.locMu.Unlock()

		close(s.closing)
		<-s.loopDone

		s.segMu.Lock()
		s.segmenter.Discard()
		s.segMu.Unlock()

		summary := s.recorder.Summarize(reason)
		record := &CallRecord{
			CallID:   s.opts.CallID,
			Caller:   s.opts.Caller,
			Called:   s.opts.Called,
			Turns:    s.Turns(),
			Timeline: s.recorder.Snapshot(),
			Summary:  summary,
		}
		if s.deps.History != nil {
			ctx, cancel := context.WithTimeout(context.Background(), historyStoreTimeout)
			if err := s.deps.History.Store(ctx, record); err != nil {
				s.logger.WithError(err).Error("Failed to store call record")
			}
			cancel()
		}

		_ = s.transition(StateEnded)

		metrics.ActiveCalls.Dec()
		metrics.CallsTotal.WithLabelValues(reason).Inc()
		metrics.CallDuration.Observe(time.Since(s.startedAt).Seconds())

		s.deps.Bus.Publish(events.Event{
			Type:   events.TypeCallEnded,
			CallID: s.opts.CallID,
			Data: map[string]interface{}{
				"reason":           reason,
				"turns":            summary.TotalTurns,
				"duration_seconds": summary.DurationSeconds,
			},
		})
	})
}

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool {
	return s.State() == StateEnded
}

// Info returns a snapshot for the command API and dashboard.
func (s *Session) Info() Info {
	s.locMu.Lock()
	pending := s.countdown != nil && s.countdown.Pending()
	sent := s.locationSent
	s.locMu.Unlock()

	s.turnMu.Lock()
	turns := len(s.turns)
	s.turnMu.Unlock()

	return Info{
		CallID:          s.opts.CallID,
		Caller:          s.opts.Caller,
		Called:          s.opts.Called,
		State:           s.State().String(),
		StartedAt:       s.startedAt,
		Turns:           turns,
		LocationPending: pending,
		LocationSent:    sent,
	}
}
