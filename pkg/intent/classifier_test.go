package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierEmptyConversation(t *testing.T) {
	c := NewDeliveryClassifier()
	r := c.Analyze()

	assert.False(t, r.Detected)
	assert.False(t, r.ShouldSendLocation)
	assert.Zero(t, r.Confidence)
}

func TestClassifierHighConfidencePhrase(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Buongiorno, sono il corriere con un pacco per lei", "caller")

	r := c.Analyze()
	assert.True(t, r.Detected)
	assert.True(t, r.ShouldSendLocation)
	assert.GreaterOrEqual(t, r.Confidence, 0.5)
	assert.NotEmpty(t, r.Triggers)
}

func TestClassifierMediumAloneDoesNotSend(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Qual è il suo indirizzo?", "caller")

	r := c.Analyze()
	assert.False(t, r.Detected, "one medium phrase scores 0.25, below both thresholds")
	assert.False(t, r.ShouldSendLocation)
}

func TestClassifierDirectionsLowerThreshold(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Non trovo il citofono, sono qui fuori", "caller")
	c.AddTurn("Vada dritto e poi giri a destra dopo il bar", "assistant")

	r := c.Analyze()
	assert.True(t, r.Detected)
	assert.True(t, r.ShouldSendLocation)
	assert.Contains(t, r.Reason, "directions discussed")
}

func TestClassifierAccumulatesAcrossTurns(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Pronto, buongiorno", "caller")
	assert.False(t, c.Analyze().Detected)

	c.AddTurn("Sono di Amazon, ho una consegna", "caller")
	r := c.Analyze()
	assert.True(t, r.Detected)
	assert.True(t, r.ShouldSendLocation)
}

func TestClassifierConfidenceSaturates(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Il corriere DHL ha una consegna, un pacco e una spedizione", "caller")

	r := c.Analyze()
	assert.Equal(t, 1.0, r.Confidence)
}

func TestClassifierIgnoresBlankTurns(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("   ", "caller")
	c.AddTurn("", "assistant")

	assert.Equal(t, "no conversation data", c.Analyze().Reason)
}

func TestClassifierReset(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("sono il corriere", "caller")
	assert.True(t, c.Analyze().Detected)

	c.Reset()
	assert.False(t, c.Analyze().Detected)
}

func TestClassifierNonDeliveryConversation(t *testing.T) {
	c := NewDeliveryClassifier()
	c.AddTurn("Chiamo per la bolletta della luce", "caller")
	c.AddTurn("Mi può dare il codice cliente?", "caller")

	r := c.Analyze()
	assert.False(t, r.ShouldSendLocation)
	assert.Equal(t, "not a delivery conversation", r.Reason)
}
