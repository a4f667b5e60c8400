package audio

import "time"

// Telephony audio constants. The narrowband phone leg is G.711 μ-law at
// 8 kHz mono, one byte per sample.
const (
	TelephonyRate     = 8000
	TranscriptionRate = 16000
	BytesPerPCMSample = 2
)

// Frame is one inbound audio frame from the telephony transport.
// Sequence numbers increase monotonically per direction.
type Frame struct {
	Seq     uint32
	Payload []byte // μ-law samples at TelephonyRate
}

// Duration returns the wall-clock span covered by the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Payload)) * time.Second / TelephonyRate
}

// Utterance is one contiguous span of caller speech bounded by silence,
// as judged by the segmenter. Audio is μ-law at TelephonyRate and may
// include the trailing silence that closed the segment.
type Utterance struct {
	Audio       []byte
	StartOffset time.Duration // position in the inbound stream
	EndOffset   time.Duration
	Duration    time.Duration // voiced span only
	PeakRMS     int
	StartSeq    uint32
	EndSeq      uint32
}
