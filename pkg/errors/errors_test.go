package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	err := New("something went wrong")
	assert.Equal(t, "something went wrong: something went wrong", err.Error())
	assert.Contains(t, err.Location(), "errors_test.go")
}

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := Wrap(ErrTranscriptionFailed, "whisper request failed")
	assert.True(t, errors.Is(wrapped, ErrTranscriptionFailed))
	assert.Contains(t, wrapped.Error(), "whisper request failed")

	// Nested wrapping still matches
	outer := Wrap(wrapped, "turn aborted")
	assert.True(t, errors.Is(outer, ErrTranscriptionFailed))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New("base", map[string]interface{}{"a": 1})
	derived := base.WithField("b", 2)

	assert.Len(t, base.GetFields(), 1)
	assert.Len(t, derived.GetFields(), 2)
	assert.Equal(t, 2, derived.GetFields()["b"])
}

func TestNewOutOfOrderFrame(t *testing.T) {
	err := NewOutOfOrderFrame("call-1", 5, 7)
	assert.True(t, errors.Is(err, ErrOutOfOrderFrame))
	assert.Equal(t, "OUT_OF_ORDER_FRAME", err.GetCode())
	assert.Equal(t, uint32(5), err.GetFields()["got_seq"])
	assert.Equal(t, "call-1", err.GetFields()["call_id"])
}

func TestNewSessionNotFound(t *testing.T) {
	err := NewSessionNotFound("CA123")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, "SESSION_NOT_FOUND", err.GetCode())
	assert.Equal(t, "CA123", err.GetFields()["call_id"])
}

func TestGetErrorCodeFromWrapped(t *testing.T) {
	err := NewInvalidInput("bad frame size")
	wrapped := fmt.Errorf("ingest: %w", err)
	assert.Equal(t, "INVALID_INPUT", GetErrorCode(wrapped))
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
}

func TestAsJSON(t *testing.T) {
	err := New("boom", map[string]interface{}{"call_id": "x"}).WithCode("BOOM")
	m := err.AsJSON()
	assert.Equal(t, "BOOM", m["code"])
	assert.NotEmpty(t, m["location"])
	assert.Equal(t, map[string]interface{}{"call_id": "x"}, m["context"])
}
