package intent

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountdownFiresAfterDelay(t *testing.T) {
	var fired int32
	done := make(chan struct{})

	c := NewCountdown(10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown never fired")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.False(t, c.Pending())
	assert.False(t, c.FireNow(), "already fired")
	assert.False(t, c.Cancel(), "cannot cancel after firing")
}

func TestCountdownCancel(t *testing.T) {
	var fired int32
	c := NewCountdown(20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	assert.True(t, c.Pending())
	assert.True(t, c.Cancel())
	assert.False(t, c.Pending())
	assert.False(t, c.Cancel(), "second cancel is a no-op")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestCountdownFireNow(t *testing.T) {
	var fired int32
	c := NewCountdown(time.Hour, func() {
		atomic.AddInt32(&fired, 1)
	})

	assert.True(t, c.FireNow())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.False(t, c.FireNow(), "at most once")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestCountdownCancelAfterFireNow(t *testing.T) {
	c := NewCountdown(time.Hour, func() {})
	c.FireNow()
	assert.False(t, c.Cancel())
}

func TestCountdownResetRestartsTimer(t *testing.T) {
	var fired int32
	done := make(chan struct{})
	start := time.Now()

	c := NewCountdown(100*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
		close(done)
	})

	time.Sleep(60 * time.Millisecond)
	assert.True(t, c.Reset(100*time.Millisecond))
	assert.True(t, c.Pending())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reset countdown never fired")
	}

	assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond,
		"fired on the original schedule instead of the reset one")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestCountdownResetSupersedesExpiredTimer(t *testing.T) {
	var fired int32
	// Reset right around the original expiry; whichever timer wins, the
	// callback must run exactly once.
	c := NewCountdown(10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Reset(10 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestCountdownResetAfterCancel(t *testing.T) {
	c := NewCountdown(time.Hour, func() {})
	c.Cancel()
	assert.False(t, c.Reset(time.Hour), "cancelled countdown cannot be reset")
	assert.False(t, c.Pending())
}
