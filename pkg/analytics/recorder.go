package analytics

// Package analytics captures a per-call instrumentation timeline and
// computes a call summary when the call ends. The timeline rides on the
// final call record handed to the history sink.

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a timeline event.
type EventType string

const (
	EventCallStarted       EventType = "call_started"
	EventGreetingStarted   EventType = "greeting_started"
	EventGreetingCompleted EventType = "greeting_completed"
	EventSpeechStarted     EventType = "speech_started"
	EventSilenceDetected   EventType = "silence_detected"
	EventStateChanged      EventType = "state_changed"

	EventTranscriptionStarted   EventType = "transcription_started"
	EventTranscriptionCompleted EventType = "transcription_completed"
	EventTranscriptionFailed    EventType = "transcription_failed"
	EventGenerationStarted      EventType = "generation_started"
	EventGenerationCompleted    EventType = "generation_completed"
	EventGenerationFailed       EventType = "generation_failed"
	EventSynthesisStarted       EventType = "synthesis_started"
	EventSynthesisCompleted     EventType = "synthesis_completed"
	EventSynthesisFailed        EventType = "synthesis_failed"

	EventPlaybackStarted   EventType = "playback_started"
	EventPlaybackCompleted EventType = "playback_completed"

	EventLocationPending   EventType = "location_pending"
	EventLocationSent      EventType = "location_sent"
	EventLocationCancelled EventType = "location_cancelled"

	EventCallEnded EventType = "call_ended"
)

// QualityFlag marks a turn-level quality issue.
type QualityFlag string

const (
	FlagEmptyTranscript       QualityFlag = "EMPTY_TRANSCRIPT"
	FlagShortSegmentDiscarded QualityFlag = "SHORT_SEGMENT_DISCARDED"
	FlagSlowResponse          QualityFlag = "SLOW_RESPONSE"
	FlagAPIRetry              QualityFlag = "API_RETRY"
	FlagFallbackReply         QualityFlag = "FALLBACK_REPLY"
	FlagTurnFailed            QualityFlag = "TURN_FAILED"
)

// SlowResponseThreshold marks a turn as slow when its total pipeline
// latency exceeds it.
const SlowResponseThreshold = 4 * time.Second

// Event is one timeline entry.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TurnIndex int                    `json:"turn_index"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TurnTiming holds the latency breakdown of one completed turn.
type TurnTiming struct {
	TurnIndex       int           `json:"turn_index"`
	TranscriptionMs time.Duration `json:"transcription_ms"`
	GenerationMs    time.Duration `json:"generation_ms"`
	SynthesisMs     time.Duration `json:"synthesis_ms"`
	Total           time.Duration `json:"total_ms"`
}

// Summary aggregates a completed call.
type Summary struct {
	CallID          string              `json:"call_id"`
	Caller          string              `json:"caller"`
	Called          string              `json:"called"`
	StartedAt       time.Time           `json:"started_at"`
	EndedAt         time.Time           `json:"ended_at"`
	DurationSeconds int                 `json:"duration_seconds"`
	Reason          string              `json:"reason"`
	TotalTurns      int                 `json:"total_turns"`
	AvgTotalMs      int64               `json:"avg_total_ms"`
	AvgTranscribeMs int64               `json:"avg_transcription_ms"`
	AvgGenerateMs   int64               `json:"avg_generation_ms"`
	AvgSynthesizeMs int64               `json:"avg_synthesis_ms"`
	P95TotalMs      int64               `json:"p95_total_ms"`
	SlowestTurn     int                 `json:"slowest_turn"`
	FlagCounts      map[QualityFlag]int `json:"flags_summary"`
}

// Recorder accumulates the timeline of one call. Events arrive from the
// turn loop, the intent watcher and the countdown goroutine.
type Recorder struct {
	mu        sync.Mutex
	callID    string
	caller    string
	called    string
	startedAt time.Time
	events    []Event
	timings   []TurnTiming
	flags     map[QualityFlag]int
	turnCount int
}

// NewRecorder starts instrumentation for one call.
func NewRecorder(callID, caller, called string) *Recorder {
	r := &Recorder{
		callID:    callID,
		caller:    caller,
		called:    called,
		startedAt: time.Now(),
		flags:     make(map[QualityFlag]int),
	}
	r.Record(EventCallStarted, 0, map[string]interface{}{
		"caller": caller,
		"called": called,
	})
	return r
}

// Record appends one event to the timeline.
func (r *Recorder) Record(t EventType, turnIndex int, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		TurnIndex: turnIndex,
		Data:      data,
	})
}

// Flag marks a turn-level quality issue and records it on the timeline.
func (r *Recorder) Flag(turnIndex int, flag QualityFlag) {
	r.mu.Lock()
	r.flags[flag]++
	r.events = append(r.events, Event{
		ID:        uuid.New().String(),
		Type:      "quality_flag",
		Timestamp: time.Now(),
		TurnIndex: turnIndex,
		Data:      map[string]interface{}{"flag": string(flag)},
	})
	r.mu.Unlock()
}

// RecordTurn stores one completed turn's latency breakdown, flagging it
// when the pipeline exceeded the slow-response threshold.
func (r *Recorder) RecordTurn(timing TurnTiming) {
	slow := timing.Total > SlowResponseThreshold

	r.mu.Lock()
	r.timings = append(r.timings, timing)
	r.turnCount++
	if slow {
		r.flags[FlagSlowResponse]++
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the timeline so far.
func (r *Recorder) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Summarize closes the timeline and computes the call summary.
func (r *Recorder) Summarize(reason string) Summary {
	r.Record(EventCallEnded, 0, map[string]interface{}{"reason": reason})

	r.mu.Lock()
	defer r.mu.Unlock()

	endedAt := time.Now()
	s := Summary{
		CallID:          r.callID,
		Caller:          r.caller,
		Called:          r.called,
		StartedAt:       r.startedAt,
		EndedAt:         endedAt,
		DurationSeconds: int(endedAt.Sub(r.startedAt).Seconds()),
		Reason:          reason,
		TotalTurns:      r.turnCount,
		FlagCounts:      make(map[QualityFlag]int, len(r.flags)),
	}
	for k, v := range r.flags {
		s.FlagCounts[k] = v
	}

	if len(r.timings) == 0 {
		return s
	}

	var totalSum, transcribeSum, generateSum, synthesizeSum time.Duration
	totals := make([]time.Duration, len(r.timings))
	slowest := r.timings[0]
	for i, t := range r.timings {
		totalSum += t.Total
		transcribeSum += t.TranscriptionMs
		generateSum += t.GenerationMs
		synthesizeSum += t.SynthesisMs
		totals[i] = t.Total
		if t.Total > slowest.Total {
			slowest = t
		}
	}

	n := int64(len(r.timings))
	s.AvgTotalMs = totalSum.Milliseconds() / n
	s.AvgTranscribeMs = transcribeSum.Milliseconds() / n
	s.AvgGenerateMs = generateSum.Milliseconds() / n
	s.AvgSynthesizeMs = synthesizeSum.Milliseconds() / n
	s.SlowestTurn = slowest.TurnIndex

	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	idx := (len(totals)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	s.P95TotalMs = totals[idx].Milliseconds()

	return s
}
