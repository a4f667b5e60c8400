package telephony

// Media-stream wire messages. The provider sends JSON text frames with
// an "event" discriminator; audio payloads are base64 μ-law.

type streamMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *startMessage `json:"start,omitempty"`
	Media          *mediaMessage `json:"media,omitempty"`
	Mark           *markMessage  `json:"mark,omitempty"`
	Stop           *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaMessage struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type outboundMedia struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markMessage `json:"mark"`
}
