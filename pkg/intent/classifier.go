package intent

// Package intent watches conversation transcripts for delivery context
// so the server can offer to text the caller directions to the house.

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Result describes what the classifier currently believes about a call.
type Result struct {
	Detected           bool
	Confidence         float64
	Triggers           []string
	ShouldSendLocation bool
	Reason             string
}

// Classifier scores a conversation for an intent. Implementations must
// be safe for concurrent use; the watcher runs off the turn pipeline.
type Classifier interface {
	AddTurn(text, speaker string)
	Analyze() Result
	Reset()
}

// Weighted Italian phrase patterns. High tier is direct delivery
// vocabulary, medium is location talk that only counts in combination,
// low is courier self-identification.
var (
	highPatterns = compileAll([]string{
		`\bcorriere\b`,
		`\bconsegna\b`,
		`\bpacco\b`,
		`\bspedizione\b`,
		`\bcollo\b`,
		`\bfattorino\b`,
		`\bpostino\b`,
		`\bamazon\b`,
		`\bdhl\b`,
		`\bups\b`,
		`\bbrt\b`,
		`\bgls\b`,
		`\bsda\b`,
		`\bposte\b`,
		`\bfedex\b`,
	})
	mediumPatterns = compileAll([]string{
		`\bdove\s+(sei|siete|abiti|abitano|trovo)\b`,
		`\bindirizzo\b`,
		`\bvia\b`,
		`\bnumero\s+civico\b`,
		`\bcancello\b`,
		`\bportone\b`,
		`\bcitofono\b`,
		`\bpiano\b`,
		`\barrivare\b`,
		`\btrovare\b`,
		`\bposizione\b`,
		`\bmappa\b`,
		`\bnavigatore\b`,
		`\bgoogle\s*maps?\b`,
		`\bperso\b`,
		`\bnon\s+trovo\b`,
	})
	lowPatterns = compileAll([]string{
		`\bsono\s+il\s+corriere\b`,
		`\bsono\s+qui\b`,
		`\bsono\s+arrivato\b`,
		`\bsto\s+arrivando\b`,
		`\bsto\s+cercando\b`,
		`\bsono\s+fuori\b`,
		`\bsono\s+sotto\b`,
	})
	directionPatterns = compileAll([]string{
		`\bcome\s+(arrivo|arrivare|raggiungo|raggiungere)\b`,
		`\bdirezioni\b`,
		`\bspiegare\b.*\bstrada\b`,
		`\bindicazioni\b`,
		`\bgira\s+(a\s+)?(destra|sinistra)\b`,
		`\bdritto\b`,
		`\bpoi\b`,
		`\bdopo\b`,
	})
)

const (
	highWeight   = 0.5
	mediumWeight = 0.25
	lowWeight    = 0.15

	// sendThreshold alone triggers a send; with directions discussed the
	// bar drops to deliveryThreshold.
	sendThreshold     = 0.5
	deliveryThreshold = 0.3
)

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DeliveryClassifier accumulates the transcript of one call and scores
// it for delivery context with weighted phrase tiers.
type DeliveryClassifier struct {
	mu    sync.Mutex
	turns []string
}

// NewDeliveryClassifier creates a classifier for one call.
func NewDeliveryClassifier() *DeliveryClassifier {
	return &DeliveryClassifier{}
}

// AddTurn appends one transcript turn. Both caller and assistant turns
// count; the courier's question and the assistant's directions both
// carry signal.
func (c *DeliveryClassifier) AddTurn(text, speaker string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	c.turns = append(c.turns, text)
	c.mu.Unlock()
}

// Analyze scores the whole conversation so far. Confidence accumulates
// per matched pattern and saturates at 1.0. A send is recommended at
// confidence 0.5, or at 0.3 when directions were also discussed.
func (c *DeliveryClassifier) Analyze() Result {
	c.mu.Lock()
	text := strings.ToLower(strings.Join(c.turns, " "))
	c.mu.Unlock()

	if text == "" {
		return Result{Reason: "no conversation data"}
	}

	var (
		confidence float64
		triggers   []string
	)
	for _, tier := range []struct {
		patterns []*regexp.Regexp
		weight   float64
	}{
		{highPatterns, highWeight},
		{mediumPatterns, mediumWeight},
		{lowPatterns, lowWeight},
	} {
		for _, p := range tier.patterns {
			if p.MatchString(text) {
				confidence += tier.weight
				triggers = append(triggers, p.String())
			}
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	directionsDiscussed := false
	for _, p := range directionPatterns {
		if p.MatchString(text) {
			directionsDiscussed = true
			break
		}
	}

	threshold := sendThreshold
	if directionsDiscussed {
		threshold = deliveryThreshold
	}

	detected := confidence >= threshold
	shouldSend := detected && (confidence >= sendThreshold || directionsDiscussed)

	var reason string
	switch {
	case shouldSend:
		reason = fmt.Sprintf("delivery detected (confidence %.0f%%)", confidence*100)
		if directionsDiscussed {
			reason += ", directions discussed"
		}
	case detected:
		reason = fmt.Sprintf("likely delivery but low confidence (%.0f%%)", confidence*100)
	default:
		reason = "not a delivery conversation"
	}

	return Result{
		Detected:           detected,
		Confidence:         confidence,
		Triggers:           triggers,
		ShouldSendLocation: shouldSend,
		Reason:             reason,
	}
}

// Reset drops the accumulated transcript.
func (c *DeliveryClassifier) Reset() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}
