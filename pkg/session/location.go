package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/analytics"
	"voice-agent-server/pkg/errors"
	"voice-agent-server/pkg/events"
	"voice-agent-server/pkg/intent"
	"voice-agent-server/pkg/metrics"
)

// watchIntent feeds one transcript turn to the classifier and arms the
// location-send countdown on a positive detection. A detection while a
// countdown is already armed resets its timer instead of stacking a
// second send. It runs on its own goroutine, never on the reply path.
func (s *Session) watchIntent(text, speaker string) {
	if !s.opts.Intent.Enabled {
		return
	}

	s.classifier.AddTurn(text, speaker)
	result := s.classifier.Analyze()
	if !result.ShouldSendLocation {
		return
	}

	s.locMu.Lock()
	if s.locationSent {
		s.locMu.Unlock()
		return
	}
	if s.countdown != nil && s.countdown.Reset(s.opts.Intent.Countdown) {
		s.locMu.Unlock()
		s.logger.WithField("confidence", result.Confidence).Debug("Delivery intent re-detected, countdown reset")
		return
	}
	s.countdown = intent.NewCountdown(s.opts.Intent.Countdown, func() {
		if err := s.fireLocation("auto"); err != nil {
			s.logger.WithError(err).Error("Automatic location send failed")
		}
	})
	s.locMu.Unlock()

	metrics.IntentDetections.WithLabelValues("delivery").Inc()
	s.recorder.Record(analytics.EventLocationPending, 0, map[string]interface{}{
		"confidence": result.Confidence,
		"reason":     result.Reason,
	})
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeLocationPending,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"caller":            s.opts.Caller,
			"confidence":        result.Confidence,
			"reason":            result.Reason,
			"countdown_seconds": int(s.opts.Intent.Countdown.Seconds()),
		},
	})
	s.logger.WithFields(logrus.Fields{
		"confidence": result.Confidence,
		"reason":     result.Reason,
	}).Info("Delivery intent detected, location send countdown armed")
}

// SendLocationNow sends the location message immediately, cancelling
// any pending countdown. Dashboard manual trigger.
func (s *Session) SendLocationNow() error {
	s.locMu.Lock()
	if s.locationSent {
		s.locMu.Unlock()
		return errors.NewInvalidInput("location already sent").WithField("call_id", s.opts.CallID)
	}
	if s.countdown != nil {
		s.countdown.Cancel()
	}
	s.locMu.Unlock()

	return s.fireLocation("manual")
}

// CancelLocationSend cancels a pending countdown. It reports false when
// nothing was pending.
func (s *Session) CancelLocationSend() bool {
	s.locMu.Lock()
	countdown := s.countdown
	s.locMu.Unlock()

	if countdown == nil || !countdown.Cancel() {
		return false
	}

	metrics.LocationSends.WithLabelValues("auto", "cancelled").Inc()
	s.recorder.Record(analytics.EventLocationCancelled, 0, nil)
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeLocationCancelled,
		CallID: s.opts.CallID,
	})
	s.logger.Info("Location send cancelled")
	return true
}

// fireLocation delivers the location message at most once per call.
func (s *Session) fireLocation(trigger string) error {
	s.locMu.Lock()
	if s.locationSent {
		s.locMu.Unlock()
		return nil
	}
	s.locationSent = true
	s.locMu.Unlock()

	sender, err := s.deps.Providers.MessageSender()
	if err != nil {
		s.locationFailed(trigger, err)
		return err
	}

	body := s.opts.Intent.LocationMessage
	if body == "" {
		body = s.deps.Profile.LocationMessage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Intent.SendTimeout)
	defer cancel()

	messageID, err := sender.SendSMS(ctx, s.opts.Caller, body)
	if err != nil {
		s.locationFailed(trigger, err)
		return errors.Wrap(err, "failed to send location message")
	}

	metrics.LocationSends.WithLabelValues(trigger, "success").Inc()
	s.recorder.Record(analytics.EventLocationSent, 0, map[string]interface{}{
		"trigger":    trigger,
		"message_id": messageID,
	})
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeLocationSent,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"caller":  s.opts.Caller,
			"trigger": trigger,
			"success": true,
		},
	})
	s.logger.WithFields(logrus.Fields{
		"trigger":    trigger,
		"message_id": messageID,
	}).Info("Location message sent")
	return nil
}

func (s *Session) locationFailed(trigger string, err error) {
	// Allow a manual retry after a failed send
	s.locMu.Lock()
	s.locationSent = false
	s.locMu.Unlock()

	metrics.LocationSends.WithLabelValues(trigger, "failure").Inc()
	s.deps.Bus.Publish(events.Event{
		Type:   events.TypeLocationSent,
		CallID: s.opts.CallID,
		Data: map[string]interface{}{
			"caller":  s.opts.Caller,
			"trigger": trigger,
			"success": false,
			"error":   err.Error(),
		},
	})
}
