package audio

import (
	"encoding/binary"
	"math"

	"voice-agent-server/pkg/errors"
)

var (
	muLawDecodeTable [256]int16
	aLawDecodeTable  [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
		aLawDecodeTable[i] = decodeALawSample(byte(i))
	}
}

// DecodePayload converts codec-specific telephony payload bytes into 16-bit PCM.
// The returned slice uses little-endian byte ordering.
func DecodePayload(payload []byte, codecName string) ([]byte, error) {
	switch codecName {
	case "", "PCMU", "G711U", "G.711U", "G711MU":
		return MuLawToPCM(payload), nil
	case "PCMA", "G711A", "G.711A":
		return aLawToPCM(payload), nil
	case "L16", "LINEAR16":
		// Already 16-bit linear PCM
		return append([]byte(nil), payload...), nil
	default:
		return nil, errors.NewInvalidInput("unsupported codec for PCM conversion").WithField("codec", codecName)
	}
}

// MuLawToPCM decodes G.711 μ-law samples to 16-bit little-endian PCM.
func MuLawToPCM(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}

	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

// PCMToMuLaw encodes 16-bit little-endian PCM to G.711 μ-law.
func PCMToMuLaw(pcm []byte) []byte {
	if len(pcm) < 2 {
		return nil
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = encodeMuLawSample(sample)
	}
	return out
}

func aLawToPCM(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}

	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := aLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + 0x84) << exponent
	magnitude -= 0x84
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := byte(0)
	value := int32(sample)
	if value < 0 {
		sign = 0x80
		value = -value
	}
	if value > clip {
		value = clip
	}
	value += bias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && value&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((value >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

func decodeALawSample(aval byte) int16 {
	aval ^= 0x55
	sign := aval & 0x80
	exponent := (aval >> 4) & 0x07

	magnitude := int16(aval&0x0F) << 4
	switch exponent {
	case 0:
		magnitude += 8
	case 1:
		magnitude += 0x108
	default:
		magnitude = (magnitude + 0x108) << (exponent - 1)
	}

	// A-law sign bit set means positive
	if sign != 0 {
		return magnitude
	}
	return -magnitude
}

// Resample converts 16-bit little-endian PCM between sample rates using
// linear interpolation. The output sample count is proportional to
// toRate/fromRate.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || len(pcm) < 2 {
		return append([]byte(nil), pcm...)
	}

	inCount := len(pcm) / 2
	samples := make([]int16, inCount)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	outCount := int(int64(inCount) * int64(toRate) / int64(fromRate))
	if outCount == 0 {
		return nil
	}

	out := make([]byte, outCount*2)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outCount; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < inCount {
			s1 = samples[idx+1]
		}

		sample := int16(float64(s0) + frac*float64(s1-s0))
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

// RMS computes the root-mean-square level of 16-bit little-endian PCM.
func RMS(pcm []byte) int {
	count := len(pcm) / 2
	if count == 0 {
		return 0
	}

	var total float64
	for i := 0; i < count; i++ {
		sample := float64(int16(pcm[2*i]) | int16(pcm[2*i+1])<<8)
		total += sample * sample
	}
	return int(math.Sqrt(total / float64(count)))
}

// PCMToWAV wraps raw 16-bit mono PCM in a RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels     = 1
		sampleWidth  = 2
		headerSize   = 44
		fmtChunkSize = 16
	)

	dataSize := len(pcm)
	byteRate := sampleRate * channels * sampleWidth

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dataSize+headerSize-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], channels*sampleWidth)
	binary.LittleEndian.PutUint16(buf[34:36], sampleWidth*8)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// PrepareForTranscription converts telephony μ-law audio into 16 kHz WAV,
// the format transcription providers work best with.
func PrepareForTranscription(mulaw []byte) []byte {
	pcm := MuLawToPCM(mulaw)
	pcm16k := Resample(pcm, TelephonyRate, TranscriptionRate)
	return PCMToWAV(pcm16k, TranscriptionRate)
}

// PrepareForTelephony converts synthesized PCM (typically 24 kHz) into
// telephony μ-law. It is called once per turn on the full synthesized
// buffer so successive samples stay continuous; chunking for transmission
// happens downstream.
func PrepareForTelephony(pcm []byte, sourceRate int) []byte {
	pcm8k := Resample(pcm, sourceRate, TelephonyRate)
	return PCMToMuLaw(pcm8k)
}
