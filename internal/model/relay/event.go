package relay

import "encoding/json"

// Client wire event names, one JSON-framed event per WebSocket message.
const (
	EventAudioChunk   = "audio_chunk"
	EventResumeUpload = "resume_upload"
	EventStatus       = "status"
	EventError        = "error"
	EventAnswerReady  = "answer_ready"
)

// Upstream connection states surfaced to the client.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Inbound is a message received from the client.
type Inbound struct {
	Event  string          `json:"event"`
	Audio  string          `json:"audio,omitempty"`
	Resume json.RawMessage `json:"resume,omitempty"`
}

// Outbound is a message pushed to the client.
type Outbound struct {
	Event  string `json:"event"`
	Status string `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`
}
