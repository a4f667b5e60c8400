package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deliveryPhrase = "Buongiorno, sono il corriere, ho un pacco per lei"

func TestLocationCountdownFiresAutomatically(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	assert.True(t, f.session.Info().LocationPending)
	assert.False(t, f.session.Info().LocationSent)

	require.Eventually(t, func() bool {
		return f.session.Info().LocationSent
	}, time.Second, 5*time.Millisecond)

	messages := f.sender.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "+391234567890", messages[0].To)
	assert.Contains(t, messages[0].Body, "Via Roma")
	assert.False(t, f.session.Info().LocationPending)
}

func TestLocationCountdownCancelled(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	require.True(t, f.session.Info().LocationPending)

	assert.True(t, f.session.CancelLocationSend())
	assert.False(t, f.session.CancelLocationSend(), "second cancel finds nothing pending")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.sender.Messages(), "cancelled countdown never sends")
	assert.False(t, f.session.Info().LocationSent)
}

func TestLocationManualSend(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	require.NoError(t, f.session.SendLocationNow())
	require.Len(t, f.sender.Messages(), 1)

	err := f.session.SendLocationNow()
	assert.Error(t, err, "second manual send rejected")
	assert.Len(t, f.sender.Messages(), 1)
}

func TestLocationManualSendCancelsCountdown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	require.True(t, f.session.Info().LocationPending)

	require.NoError(t, f.session.SendLocationNow())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.sender.Messages(), 1, "countdown did not double-send")
}

func TestLocationSendFailureAllowsRetry(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	f.sender.Err = errors.New("twilio unavailable")
	assert.Error(t, f.session.SendLocationNow())
	assert.False(t, f.session.Info().LocationSent)

	f.sender.Err = nil
	require.NoError(t, f.session.SendLocationNow())
	assert.True(t, f.session.Info().LocationSent)
}

func TestLocationRepeatedDetectionResetsCountdown(t *testing.T) {
	f := newFixture(t, func(o *Options, f *fixture) {
		o.Intent.Countdown = 400 * time.Millisecond
	})
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	require.True(t, f.session.Info().LocationPending)

	time.Sleep(250 * time.Millisecond)
	f.session.watchIntent("il corriere sta cercando la sua via", "assistant")

	// 500ms after the first arm but only 250ms after the reset: the
	// original timer must not have fired.
	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, f.sender.Messages(), "reset countdown fired on the original schedule")
	assert.True(t, f.session.Info().LocationPending)

	require.Eventually(t, func() bool {
		return f.session.Info().LocationSent
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.sender.Messages(), 1, "reset countdown sends once")
}

func TestLocationCustomMessageOverridesProfile(t *testing.T) {
	f := newFixture(t, func(o *Options, f *fixture) {
		o.Intent.LocationMessage = "Cancello verde in fondo alla strada."
	})
	require.NoError(t, f.session.StreamStarted())

	require.NoError(t, f.session.SendLocationNow())
	messages := f.sender.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Cancello verde in fondo alla strada.", messages[0].Body)
}

func TestLocationDisabledIntentNeverArms(t *testing.T) {
	f := newFixture(t, func(o *Options, f *fixture) {
		o.Intent.Enabled = false
	})
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	assert.False(t, f.session.Info().LocationPending)
}

func TestLocationEndCancelsPendingCountdown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.StreamStarted())

	f.session.watchIntent(deliveryPhrase, "caller")
	require.True(t, f.session.Info().LocationPending)

	f.session.End("caller_hangup")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.sender.Messages(), "teardown cancels the countdown")
}
