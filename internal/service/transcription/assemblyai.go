package transcription

// Message types on AssemblyAI's v2 realtime endpoint.
const (
	msgSessionBegins     = "SessionBegins"
	msgPartialTranscript = "PartialTranscript"
	msgFinalTranscript   = "FinalTranscript"
	msgSessionTerminated = "SessionTerminated"
)

type serverMessage struct {
	MessageType string  `json:"message_type"`
	SessionID   string  `json:"session_id,omitempty"`
	Text        string  `json:"text,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	AudioStart  int64   `json:"audio_start,omitempty"`
	AudioEnd    int64   `json:"audio_end,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type audioFrame struct {
	AudioData string `json:"audio_data"`
}

type terminateFrame struct {
	TerminateSession bool `json:"terminate_session"`
}
