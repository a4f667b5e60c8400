package audio

import (
	"time"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/errors"
	"voice-agent-server/pkg/metrics"
)

// SegmenterConfig holds utterance segmentation thresholds.
type SegmenterConfig struct {
	// SilenceThresholdRMS is the RMS level below which a frame counts as silence
	SilenceThresholdRMS int

	// SilenceDurationMs of consecutive silence closes an utterance
	SilenceDurationMs int

	// MinSpeechDurationMs of voiced audio is required to emit; shorter
	// segments are discarded as noise
	MinSpeechDurationMs int

	// MaxUtteranceMs bounds the buffer so a stuck-open line cannot grow
	// memory without limit
	MaxUtteranceMs int
}

// Segmenter turns a raw inbound frame stream into discrete utterances.
// It keeps a rolling RMS estimate per frame and accumulates audio from
// the first voiced frame until enough silence follows.
//
// Durations are derived from audio content (frame length at the telephony
// rate), not wall-clock time, so segmentation is deterministic.
type Segmenter struct {
	config SegmenterConfig
	logger *logrus.Entry
	callID string

	buffer        []byte
	speechStarted bool
	voicedMs      float64
	silenceMs     float64
	streamMs      float64
	startOffsetMs float64
	peakRMS       int

	startSeq uint32
	lastSeq  uint32
	haveSeq  bool
}

// NewSegmenter creates a segmenter for one call direction.
func NewSegmenter(config SegmenterConfig, logger *logrus.Logger, callID string) *Segmenter {
	return &Segmenter{
		config: config,
		logger: logger.WithField("call_id", callID),
		callID: callID,
	}
}

// Feed consumes one inbound frame. It returns a completed Utterance when
// the silence window closes a sufficiently long speech segment, nil
// otherwise. Frames with non-increasing sequence numbers are dropped and
// reported as ErrOutOfOrderFrame.
func (s *Segmenter) Feed(frame Frame) (*Utterance, error) {
	if len(frame.Payload) == 0 {
		return nil, nil
	}

	if s.haveSeq && frame.Seq <= s.lastSeq {
		metrics.FramesDropped.WithLabelValues(s.callID, "out_of_order").Inc()
		return nil, errors.NewOutOfOrderFrame(s.callID, frame.Seq, s.lastSeq+1)
	}

	frameMs := float64(len(frame.Payload)) * 1000 / TelephonyRate
	s.streamMs += frameMs

	pcm := MuLawToPCM(frame.Payload)
	rms := RMS(pcm)
	voiced := rms > s.config.SilenceThresholdRMS

	if voiced {
		s.silenceMs = 0

		if rms > s.peakRMS {
			s.peakRMS = rms
		}

		if !s.speechStarted {
			s.speechStarted = true
			s.startOffsetMs = s.streamMs - frameMs
			s.startSeq = frame.Seq
			s.logger.Debug("Speech started")
		}

		s.buffer = append(s.buffer, frame.Payload...)
		s.voicedMs += frameMs
	} else if s.speechStarted {
		// Keep audio across short silences, they are natural pauses
		s.buffer = append(s.buffer, frame.Payload...)
		s.silenceMs += frameMs

		if s.silenceMs >= float64(s.config.SilenceDurationMs) {
			utterance := s.finish(frame.Seq)
			s.lastSeq = frame.Seq
			s.haveSeq = true
			return utterance, nil
		}
	}

	s.lastSeq = frame.Seq
	s.haveSeq = true

	if s.speechStarted && s.bufferedMs() >= float64(s.config.MaxUtteranceMs) {
		s.logger.WithField("buffered_ms", int(s.bufferedMs())).Warn("Utterance exceeded maximum duration, forcing flush")
		return s.finish(frame.Seq), nil
	}

	return nil, nil
}

// finish closes the current buffer, emitting it when the voiced span is
// long enough and discarding it as noise otherwise.
func (s *Segmenter) finish(endSeq uint32) *Utterance {
	defer s.reset()

	if s.voicedMs < float64(s.config.MinSpeechDurationMs) {
		s.logger.WithField("speech_ms", int(s.voicedMs)).Debug("Discarding short segment")
		metrics.UtterancesDiscarded.WithLabelValues("too_short").Inc()
		return nil
	}

	utterance := &Utterance{
		Audio:       s.buffer,
		StartOffset: time.Duration(s.startOffsetMs) * time.Millisecond,
		EndOffset:   time.Duration(s.streamMs) * time.Millisecond,
		Duration:    time.Duration(s.voicedMs) * time.Millisecond,
		PeakRMS:     s.peakRMS,
		StartSeq:    s.startSeq,
		EndSeq:      endSeq,
	}

	s.logger.WithFields(logrus.Fields{
		"bytes":     len(utterance.Audio),
		"speech_ms": int(s.voicedMs),
		"peak_rms":  s.peakRMS,
	}).Debug("Speech segment complete")
	metrics.UtterancesEmitted.Inc()

	return utterance
}

// Flush returns any buffered speech without waiting for the silence
// window. Used when the media stream ends gracefully mid-buffer.
func (s *Segmenter) Flush() *Utterance {
	if !s.speechStarted || len(s.buffer) == 0 {
		return nil
	}
	return s.finish(s.lastSeq)
}

// Discard drops any buffered audio without emitting. Used on teardown.
func (s *Segmenter) Discard() {
	if s.speechStarted {
		metrics.UtterancesDiscarded.WithLabelValues("call_ended").Inc()
	}
	s.reset()
}

// Buffered reports whether a speech segment is currently accumulating.
func (s *Segmenter) Buffered() bool {
	return s.speechStarted
}

func (s *Segmenter) bufferedMs() float64 {
	return float64(len(s.buffer)) * 1000 / TelephonyRate
}

func (s *Segmenter) reset() {
	s.buffer = nil
	s.speechStarted = false
	s.voicedMs = 0
	s.silenceMs = 0
	s.peakRMS = 0
	s.startOffsetMs = 0
}
