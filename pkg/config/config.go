package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Telephony TelephonyConfig `json:"telephony"`
	Segmenter SegmenterConfig `json:"segmenter"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Intent    IntentConfig    `json:"intent"`
	Providers ProvidersConfig `json:"providers"`
	Messaging MessagingConfig `json:"messaging"`
	Profile   ProfileConfig   `json:"profile"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port          int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	EnableMetrics bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
}

// TelephonyConfig holds media-stream gateway configuration
type TelephonyConfig struct {
	// SampleRate is the narrowband telephony rate in Hz
	SampleRate int `json:"sample_rate" env:"TELEPHONY_SAMPLE_RATE" default:"8000"`

	// OutboundChunkBytes is the size of outbound base64 media chunks
	OutboundChunkBytes int `json:"outbound_chunk_bytes" env:"TELEPHONY_OUTBOUND_CHUNK_BYTES" default:"640"`

	// OutboundPacing is the delay between outbound chunks
	OutboundPacing time.Duration `json:"outbound_pacing" env:"TELEPHONY_OUTBOUND_PACING" default:"20ms"`
}

// SegmenterConfig holds utterance segmentation configuration
type SegmenterConfig struct {
	SilenceThresholdRMS int `json:"silence_threshold_rms" env:"SEGMENTER_SILENCE_THRESHOLD_RMS" default:"500"`
	SilenceDurationMs   int `json:"silence_duration_ms" env:"SEGMENTER_SILENCE_DURATION_MS" default:"1200"`
	MinSpeechDurationMs int `json:"min_speech_duration_ms" env:"SEGMENTER_MIN_SPEECH_MS" default:"500"`
	MaxUtteranceMs      int `json:"max_utterance_ms" env:"SEGMENTER_MAX_UTTERANCE_MS" default:"30000"`
}

// PipelineConfig holds turn orchestration configuration
type PipelineConfig struct {
	// ContextTurns is how many prior exchanges are sent to the responder
	ContextTurns int `json:"context_turns" env:"PIPELINE_CONTEXT_TURNS" default:"12"`

	// StepTimeout bounds each external capability call
	StepTimeout time.Duration `json:"step_timeout" env:"PIPELINE_STEP_TIMEOUT_MS" default:"15s"`

	// GoodbyePhrases end the call when they appear in a generated reply
	GoodbyePhrases []string `json:"goodbye_phrases" env:"PIPELINE_GOODBYE_PHRASES"`

	// FallbackPhrase is spoken when generation or synthesis fails
	FallbackPhrase string `json:"fallback_phrase" env:"PIPELINE_FALLBACK_PHRASE"`

	// Language hint passed to the transcriber
	Language string `json:"language" env:"PIPELINE_LANGUAGE" default:"it"`
}

// IntentConfig holds intent detection and delayed-send configuration
type IntentConfig struct {
	Enabled         bool          `json:"enabled" env:"INTENT_ENABLED" default:"true"`
	Countdown       time.Duration `json:"countdown" env:"INTENT_COUNTDOWN_SECONDS" default:"30s"`
	LocationMessage string        `json:"location_message" env:"INTENT_LOCATION_MESSAGE"`
	SendTimeout     time.Duration `json:"send_timeout" env:"INTENT_SEND_TIMEOUT" default:"10s"`
}

// ProvidersConfig holds external capability provider configuration
type ProvidersConfig struct {
	Transcriber string `json:"transcriber" env:"PROVIDER_TRANSCRIBER" default:"whisper"`

	OpenAI    OpenAIConfig    `json:"openai"`
	Anthropic AnthropicConfig `json:"anthropic"`
	Google    GoogleConfig    `json:"google"`
	Amazon    AmazonConfig    `json:"amazon"`
	Twilio    TwilioConfig    `json:"twilio"`
}

// OpenAIConfig holds OpenAI transcription/synthesis configuration
type OpenAIConfig struct {
	APIKey         string  `json:"-" env:"OPENAI_API_KEY"`
	WhisperModel   string  `json:"whisper_model" env:"OPENAI_WHISPER_MODEL" default:"whisper-1"`
	TTSModel       string  `json:"tts_model" env:"OPENAI_TTS_MODEL" default:"tts-1"`
	TTSVoice       string  `json:"tts_voice" env:"OPENAI_TTS_VOICE" default:"onyx"`
	TTSSpeed       float64 `json:"tts_speed" env:"OPENAI_TTS_SPEED" default:"0.95"`
	TTSSampleRate  int     `json:"tts_sample_rate" env:"OPENAI_TTS_SAMPLE_RATE" default:"24000"`
	TranscribeHint string  `json:"transcribe_hint" env:"OPENAI_TRANSCRIBE_HINT"`
}

// AnthropicConfig holds response generation configuration
type AnthropicConfig struct {
	APIKey    string `json:"-" env:"ANTHROPIC_API_KEY"`
	Model     string `json:"model" env:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
	MaxTokens int    `json:"max_tokens" env:"ANTHROPIC_MAX_TOKENS" default:"150"`
}

// GoogleConfig holds Google Speech-to-Text configuration
type GoogleConfig struct {
	Enabled         bool   `json:"enabled" env:"GOOGLE_STT_ENABLED" default:"false"`
	APIKey          string `json:"-" env:"GOOGLE_STT_API_KEY"`
	CredentialsFile string `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Language        string `json:"language" env:"GOOGLE_STT_LANGUAGE" default:"it-IT"`
}

// AmazonConfig holds Amazon Transcribe configuration
type AmazonConfig struct {
	Enabled         bool   `json:"enabled" env:"AMAZON_STT_ENABLED" default:"false"`
	Region          string `json:"region" env:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `json:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"-" env:"AWS_SECRET_ACCESS_KEY"`
	Language        string `json:"language" env:"AMAZON_STT_LANGUAGE" default:"it-IT"`
}

// TwilioConfig holds outbound messaging configuration
type TwilioConfig struct {
	AccountSID string `json:"-" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `json:"-" env:"TWILIO_AUTH_TOKEN"`
	FromNumber string `json:"from_number" env:"TWILIO_FROM_NUMBER"`
}

// MessagingConfig holds AMQP configuration
type MessagingConfig struct {
	AMQPUrl         string        `json:"-" env:"AMQP_URL"`
	CallRecordQueue string        `json:"call_record_queue" env:"AMQP_CALL_RECORD_QUEUE" default:"call_records"`
	EventsExchange  string        `json:"events_exchange" env:"AMQP_EVENTS_EXCHANGE" default:"call_events"`
	PublishTimeout  time.Duration `json:"publish_timeout" env:"AMQP_PUBLISH_TIMEOUT" default:"5s"`
}

// ProfileConfig holds conversation profile configuration
type ProfileConfig struct {
	Path string `json:"path" env:"PROFILE_PATH" default:"./data/profile.json"`
}

// DefaultGoodbyePhrases are the phrases that end a call when spoken by the agent
var DefaultGoodbyePhrases = []string{
	"arrivederci",
	"buona giornata",
	"buonasera",
	"a presto",
	"buon proseguimento",
	"alla prossima",
}

// Load builds a Config from environment variables, loading a .env file if present
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Define possible locations for .env file
	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}
	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	if err := loadTelephonyConfig(logger, &config.Telephony); err != nil {
		return nil, errors.Wrap(err, "failed to load telephony configuration")
	}
	if err := loadSegmenterConfig(logger, &config.Segmenter); err != nil {
		return nil, errors.Wrap(err, "failed to load segmenter configuration")
	}
	if err := loadPipelineConfig(logger, &config.Pipeline); err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}
	if err := loadIntentConfig(logger, &config.Intent); err != nil {
		return nil, errors.Wrap(err, "failed to load intent configuration")
	}
	if err := loadProvidersConfig(logger, &config.Providers); err != nil {
		return nil, errors.Wrap(err, "failed to load provider configuration")
	}
	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}
	if err := loadProfileConfig(logger, &config.Profile); err != nil {
		return nil, errors.Wrap(err, "failed to load profile configuration")
	}

	return config, nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "text")

	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.WithField("level", config.Level).Warn("Invalid log level, defaulting to info")
		config.Level = "info"
	}
	return nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	config.Port = getEnvInt(logger, "HTTP_PORT", 8080)
	config.ReadTimeout = getEnvDuration(logger, "HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration(logger, "HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.EnableMetrics = getEnvBool(logger, "HTTP_ENABLE_METRICS", true)
	return nil
}

func loadTelephonyConfig(logger *logrus.Logger, config *TelephonyConfig) error {
	config.SampleRate = getEnvInt(logger, "TELEPHONY_SAMPLE_RATE", 8000)
	config.OutboundChunkBytes = getEnvInt(logger, "TELEPHONY_OUTBOUND_CHUNK_BYTES", 640)
	config.OutboundPacing = getEnvDuration(logger, "TELEPHONY_OUTBOUND_PACING", 20*time.Millisecond)

	if config.SampleRate != 8000 {
		logger.WithField("sample_rate", config.SampleRate).Warn("Non-standard telephony sample rate")
	}
	return nil
}

func loadSegmenterConfig(logger *logrus.Logger, config *SegmenterConfig) error {
	config.SilenceThresholdRMS = getEnvInt(logger, "SEGMENTER_SILENCE_THRESHOLD_RMS", 500)
	config.SilenceDurationMs = getEnvInt(logger, "SEGMENTER_SILENCE_DURATION_MS", 1200)
	config.MinSpeechDurationMs = getEnvInt(logger, "SEGMENTER_MIN_SPEECH_MS", 500)
	config.MaxUtteranceMs = getEnvInt(logger, "SEGMENTER_MAX_UTTERANCE_MS", 30000)

	if config.MaxUtteranceMs < config.MinSpeechDurationMs {
		return errors.NewInvalidInput("max utterance duration shorter than minimum speech duration", map[string]interface{}{
			"max_utterance_ms": config.MaxUtteranceMs,
			"min_speech_ms":    config.MinSpeechDurationMs,
		})
	}
	return nil
}

func loadPipelineConfig(logger *logrus.Logger, config *PipelineConfig) error {
	config.ContextTurns = getEnvInt(logger, "PIPELINE_CONTEXT_TURNS", 12)
	config.StepTimeout = getEnvDuration(logger, "PIPELINE_STEP_TIMEOUT_MS", 15*time.Second)
	config.Language = getEnv("PIPELINE_LANGUAGE", "it")
	config.FallbackPhrase = getEnv("PIPELINE_FALLBACK_PHRASE", "Mi scusi, un momento per favore.")

	phrasesStr := getEnv("PIPELINE_GOODBYE_PHRASES", "")
	if phrasesStr == "" {
		config.GoodbyePhrases = append([]string(nil), DefaultGoodbyePhrases...)
	} else {
		phrases := strings.Split(phrasesStr, ",")
		for i, phrase := range phrases {
			phrases[i] = strings.ToLower(strings.TrimSpace(phrase))
		}
		config.GoodbyePhrases = phrases
		logger.WithField("phrases", config.GoodbyePhrases).Info("Configured goodbye phrases")
	}
	return nil
}

func loadIntentConfig(logger *logrus.Logger, config *IntentConfig) error {
	config.Enabled = getEnvBool(logger, "INTENT_ENABLED", true)
	config.SendTimeout = getEnvDuration(logger, "INTENT_SEND_TIMEOUT", 10*time.Second)
	config.LocationMessage = getEnv("INTENT_LOCATION_MESSAGE", "")

	// INTENT_COUNTDOWN_SECONDS is a bare integer for compatibility with the dashboard
	countdownSec := getEnvInt(logger, "INTENT_COUNTDOWN_SECONDS", 30)
	config.Countdown = time.Duration(countdownSec) * time.Second
	return nil
}

func loadProvidersConfig(logger *logrus.Logger, config *ProvidersConfig) error {
	config.Transcriber = getEnv("PROVIDER_TRANSCRIBER", "whisper")

	config.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	config.OpenAI.WhisperModel = getEnv("OPENAI_WHISPER_MODEL", "whisper-1")
	config.OpenAI.TTSModel = getEnv("OPENAI_TTS_MODEL", "tts-1")
	config.OpenAI.TTSVoice = getEnv("OPENAI_TTS_VOICE", "onyx")
	config.OpenAI.TTSSpeed = getEnvFloat(logger, "OPENAI_TTS_SPEED", 0.95)
	config.OpenAI.TTSSampleRate = getEnvInt(logger, "OPENAI_TTS_SAMPLE_RATE", 24000)
	config.OpenAI.TranscribeHint = getEnv("OPENAI_TRANSCRIBE_HINT", "")

	config.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", "")
	config.Anthropic.Model = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
	config.Anthropic.MaxTokens = getEnvInt(logger, "ANTHROPIC_MAX_TOKENS", 150)

	config.Google.Enabled = getEnvBool(logger, "GOOGLE_STT_ENABLED", false)
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.Language = getEnv("GOOGLE_STT_LANGUAGE", "it-IT")

	config.Amazon.Enabled = getEnvBool(logger, "AMAZON_STT_ENABLED", false)
	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	config.Amazon.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	config.Amazon.Language = getEnv("AMAZON_STT_LANGUAGE", "it-IT")

	config.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", "")
	config.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", "")
	config.Twilio.FromNumber = getEnv("TWILIO_FROM_NUMBER", "")

	switch config.Transcriber {
	case "whisper", "google", "amazon", "mock":
	default:
		logger.WithField("transcriber", config.Transcriber).Warn("Unknown transcriber provider, falling back to whisper")
		config.Transcriber = "whisper"
	}
	return nil
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.CallRecordQueue = getEnv("AMQP_CALL_RECORD_QUEUE", "call_records")
	config.EventsExchange = getEnv("AMQP_EVENTS_EXCHANGE", "call_events")
	config.PublishTimeout = getEnvDuration(logger, "AMQP_PUBLISH_TIMEOUT", 5*time.Second)

	if config.AMQPUrl == "" {
		logger.Debug("AMQP_URL not set, AMQP publishing disabled")
	}
	return nil
}

func loadProfileConfig(logger *logrus.Logger, config *ProfileConfig) error {
	config.Path = getEnv("PROFILE_PATH", "./data/profile.json")
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(logger *logrus.Logger, key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": valueStr,
		}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(logger *logrus.Logger, key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": valueStr,
		}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

// getEnvFloat retrieves a float environment variable or returns a default value
func getEnvFloat(logger *logrus.Logger, key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": valueStr,
		}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

// getEnvDuration retrieves a duration environment variable or returns a default value.
// Accepts Go duration strings ("15s") and bare millisecond integers ("15000").
func getEnvDuration(logger *logrus.Logger, key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}

	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	logger.WithFields(logrus.Fields{
		"key":   key,
		"value": valueStr,
	}).Warn("Invalid duration value, using default")
	return defaultValue
}
