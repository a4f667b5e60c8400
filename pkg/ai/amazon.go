package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/audio"
	"voice-agent-server/pkg/config"
	"voice-agent-server/pkg/errors"
)

// wavHeaderSize is the RIFF header length prepended by the converter.
const wavHeaderSize = 44

// AmazonTranscriber implements Transcriber with Amazon Transcribe
// streaming. Each utterance opens one short-lived stream; the final
// results are concatenated when the stream drains.
type AmazonTranscriber struct {
	logger *logrus.Logger
	config *config.AmazonConfig
	client *transcribestreaming.Client
}

// NewAmazonTranscriber creates an Amazon Transcribe transcriber.
func NewAmazonTranscriber(logger *logrus.Logger, cfg *config.AmazonConfig) *AmazonTranscriber {
	return &AmazonTranscriber{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name
func (t *AmazonTranscriber) Name() string {
	return "amazon"
}

// Initialize loads AWS configuration and creates the streaming client
func (t *AmazonTranscriber) Initialize() error {
	if !t.config.Enabled {
		return fmt.Errorf("Amazon STT is disabled")
	}
	if t.config.AccessKeyID == "" || t.config.SecretAccessKey == "" {
		return fmt.Errorf("Amazon STT requires AWS access key ID and secret access key")
	}

	region := t.config.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     t.config.AccessKeyID,
				SecretAccessKey: t.config.SecretAccessKey,
			}, nil
		})),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	t.client = transcribestreaming.NewFromConfig(cfg)

	t.logger.WithFields(logrus.Fields{
		"region":   region,
		"language": t.config.Language,
	}).Info("Amazon transcriber initialized successfully")
	return nil
}

// Transcribe streams one utterance and waits for the final transcript.
func (t *AmazonTranscriber) Transcribe(ctx context.Context, wavAudio []byte, language string) (*TranscriptionResult, error) {
	if t.client == nil {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "Amazon transcriber not initialized")
	}

	started := time.Now()

	lang := t.config.Language
	if lang == "" {
		lang = language
	}

	resp, err := t.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(lang),
		MediaSampleRateHertz: aws.Int32(int32(audio.TranscriptionRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transcription stream").WithCode("TRANSCRIPTION_FAILED")
	}

	pcm := wavAudio
	if len(pcm) > wavHeaderSize {
		pcm = pcm[wavHeaderSize:]
	}

	stream := resp.GetStream()
	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		const chunkSize = 4096
		for off := 0; off < len(pcm); off += chunkSize {
			end := off + chunkSize
			if end > len(pcm) {
				end = len(pcm)
			}
			event := &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: pcm[off:end]},
			}
			if err := stream.Send(ctx, event); err != nil {
				sendErr <- err
				return
			}
		}
		if err := stream.Close(); err != nil {
			sendErr <- err
		}
	}()

	var parts []string
	for event := range stream.Events() {
		transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}
		for _, result := range transcriptEvent.Value.Transcript.Results {
			if result.IsPartial || len(result.Alternatives) == 0 {
				continue
			}
			if alt := result.Alternatives[0].Transcript; alt != nil {
				parts = append(parts, *alt)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "transcription stream failed").WithCode("TRANSCRIPTION_FAILED")
	}
	if err := <-sendErr; err != nil {
		return nil, errors.Wrap(err, "failed to send audio to transcription stream")
	}

	text := strings.TrimSpace(strings.Join(parts, " "))
	elapsed := time.Since(started)

	t.logger.WithFields(logrus.Fields{
		"provider":    "amazon",
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Transcription received")

	return &TranscriptionResult{
		Text:     text,
		Language: lang,
		Provider: t.Name(),
		Elapsed:  elapsed,
	}, nil
}
