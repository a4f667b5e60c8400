package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-agent-server/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	metrics.Init(logger)
	m.Run()
}

// sinePCM generates 16-bit mono PCM of a sine tone.
func sinePCM(samples int, amplitude float64, freq float64, rate int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func TestMuLawRoundTripExact(t *testing.T) {
	// Decoding any μ-law byte and re-encoding must reproduce it. The only
	// exception is negative zero, which re-encodes as positive zero.
	for i := 0; i < 256; i++ {
		b := byte(i)
		sample := muLawDecodeTable[b]
		got := encodeMuLawSample(sample)

		if b == 0x7F {
			assert.Equal(t, byte(0xFF), got, "negative zero folds to positive zero")
			continue
		}
		assert.Equal(t, b, got, "byte %#x", b)
	}
}

func TestMuLawSilenceEncodesToFF(t *testing.T) {
	assert.Equal(t, byte(0xFF), encodeMuLawSample(0))
	assert.Equal(t, int16(0), muLawDecodeTable[0xFF])
}

func TestPCMMuLawDurationPreserved(t *testing.T) {
	pcm := sinePCM(800, 8000, 440, TelephonyRate) // 100ms at 8kHz

	mulaw := PCMToMuLaw(pcm)
	assert.Len(t, mulaw, 800)

	back := MuLawToPCM(mulaw)
	assert.Len(t, back, len(pcm))

	// Companding error stays within one μ-law quantization step
	for i := 0; i < len(pcm); i += 2 {
		want := int16(binary.LittleEndian.Uint16(pcm[i:]))
		got := int16(binary.LittleEndian.Uint16(back[i:]))
		assert.InDelta(t, float64(want), float64(got), 1100, "sample %d", i/2)
	}
}

func TestALawDecodeReferenceValues(t *testing.T) {
	// Spot values from the ITU-T G.711 A-law expansion table. The sign
	// bit set means positive.
	cases := []struct {
		in   byte
		want int16
	}{
		{0x55, -8},     // negative minimum magnitude
		{0xD5, 8},      // positive minimum magnitude
		{0xCA, 504},    // segment 1, full mantissa
		{0x2A, -32256}, // negative maximum
		{0xAA, 32256},  // positive maximum
	}
	for _, c := range cases {
		assert.Equal(t, c.want, aLawDecodeTable[c.in], "byte %#x", c.in)
	}
}

func TestALawMonotonicMagnitudes(t *testing.T) {
	// Within one segment, magnitude must grow with the mantissa; the
	// upper-segment mantissa bits are where a narrowing shift would clip.
	aByte := func(seg, mant byte) byte {
		return (0x80 | seg<<4 | mant) ^ 0x55
	}
	for seg := byte(0); seg < 8; seg++ {
		for mant := byte(1); mant < 16; mant++ {
			prev := aLawDecodeTable[aByte(seg, mant-1)]
			cur := aLawDecodeTable[aByte(seg, mant)]
			assert.Greater(t, cur, prev, "segment %d mantissa %d", seg, mant)
		}
	}
}

func TestDecodePayloadCodecs(t *testing.T) {
	payload := []byte{0xFF, 0x7F, 0x00}

	pcmu, err := DecodePayload(payload, "PCMU")
	require.NoError(t, err)
	assert.Len(t, pcmu, 6)

	pcma, err := DecodePayload(payload, "PCMA")
	require.NoError(t, err)
	assert.Len(t, pcma, 6)

	linear, err := DecodePayload(payload, "L16")
	require.NoError(t, err)
	assert.Equal(t, payload, linear)

	_, err = DecodePayload(payload, "OPUS")
	assert.Error(t, err)
}

func TestResampleRatio(t *testing.T) {
	pcm := sinePCM(800, 8000, 440, TelephonyRate)

	up := Resample(pcm, 8000, 16000)
	assert.Len(t, up, len(pcm)*2)

	down := Resample(up, 16000, 8000)
	assert.Len(t, down, len(pcm))

	// 24kHz -> 8kHz keeps one third of the samples
	pcm24 := sinePCM(2400, 8000, 440, 24000)
	tel := Resample(pcm24, 24000, 8000)
	assert.Len(t, tel, len(pcm24)/3)
}

func TestResampleSameRateCopies(t *testing.T) {
	pcm := sinePCM(100, 1000, 440, 8000)
	out := Resample(pcm, 8000, 8000)
	assert.Equal(t, pcm, out)

	// Mutating the copy must not touch the input
	out[0] ^= 0xFF
	assert.NotEqual(t, pcm[0], out[0])
}

func TestRMS(t *testing.T) {
	silence := make([]byte, 320)
	assert.Equal(t, 0, RMS(silence))

	tone := sinePCM(800, 10000, 440, TelephonyRate)
	rms := RMS(tone)
	// RMS of a sine is amplitude/sqrt(2)
	assert.InDelta(t, 10000/math.Sqrt2, float64(rms), 300)
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := sinePCM(160, 1000, 440, TranscriptionRate)
	wav := PCMToWAV(pcm, TranscriptionRate)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(TranscriptionRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestPrepareForTranscription(t *testing.T) {
	mulaw := PCMToMuLaw(sinePCM(800, 8000, 440, TelephonyRate)) // 100ms

	out := PrepareForTranscription(mulaw)
	// 100ms at 16kHz, 16-bit, plus the 44-byte header
	assert.Len(t, out, 44+1600*2)
}

func TestPrepareForTelephonyRoundTripDuration(t *testing.T) {
	// One second of synthesized 24kHz audio must come out as one second
	// of 8kHz μ-law, within one 20ms frame period.
	pcm := sinePCM(24000, 8000, 440, 24000)
	mulaw := PrepareForTelephony(pcm, 24000)

	gotMs := float64(len(mulaw)) * 1000 / TelephonyRate
	assert.InDelta(t, 1000, gotMs, 20)
}
