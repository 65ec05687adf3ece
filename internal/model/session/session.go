package session

import (
	"encoding/json"
	"time"
)

// Status tracks a session through its lifecycle.
type Status int

const (
	Idle Status = iota
	ConnectingUpstream
	Streaming
	Closing
	Closed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConnectingUpstream:
		return "connecting_upstream"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session captures one connected client's interview-assistance context.
// Nothing here survives the client connection.
type Session struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Resume    json.RawMessage `json:"resume,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
