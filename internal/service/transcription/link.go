package transcription

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var (
	// ErrUpstreamUnavailable reports that a link could not be established
	// within the connect timeout.
	ErrUpstreamUnavailable = errors.New("upstream transcription unavailable")

	// ErrLinkClosed reports an operation on a link that already released its
	// connection. A closed link is never reused.
	ErrLinkClosed = errors.New("transcription link closed")
)

// EventKind classifies events emitted by a link.
type EventKind int

const (
	// KindPartial is an interim transcript still subject to revision.
	KindPartial EventKind = iota
	// KindFinal is a transcript segment the upstream marked complete.
	KindFinal
	// KindClosed is the single terminal event of a link. Err carries the
	// failure reason for abnormal closures and is nil otherwise.
	KindClosed
)

// Event is one upstream notification. Delivery order matches the order the
// upstream produced them.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Config carries the upstream endpoint settings.
type Config struct {
	URL            string
	APIKey         string
	SampleRate     int
	ConnectTimeout time.Duration
	AudioBuffer    int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "wss://api.assemblyai.com/v2/realtime/ws"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.AudioBuffer == 0 {
		c.AudioBuffer = 100
	}
	return c
}

// Opener establishes upstream links on demand.
type Opener interface {
	Open(ctx context.Context, sessionID string) (Stream, error)
}

// Stream is one live upstream connection owned by a single session.
//
// Events must be drained by exactly one consumer; the channel is closed after
// the terminal KindClosed event. SendAudio never blocks: it fails when the
// outbound buffer is full or the link is closed.
type Stream interface {
	SendAudio(chunk []byte) error
	Events() <-chan Event
	Close() error
}

// Client dials AssemblyAI's realtime endpoint.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *log.Logger
}

// NewClient builds a Client from the given config.
func NewClient(cfg Config, logger *log.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger: logger,
	}
}

// Open establishes one streaming connection for the session. It returns only
// after the upstream acknowledged the session, bounded by the connect timeout.
func (c *Client) Open(ctx context.Context, sessionID string) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", c.cfg.APIKey)
	url := fmt.Sprintf("%s?sample_rate=%d", c.cfg.URL, c.cfg.SampleRate)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrUpstreamUnavailable, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	var begin serverMessage
	if err := conn.ReadJSON(&begin); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %v", ErrUpstreamUnavailable, err)
	}
	if begin.MessageType != msgSessionBegins {
		conn.Close()
		return nil, fmt.Errorf("%w: unexpected handshake message %q", ErrUpstreamUnavailable, begin.MessageType)
	}
	conn.SetReadDeadline(time.Time{})

	l := &link{
		sessionID: sessionID,
		conn:      conn,
		audio:     make(chan []byte, c.cfg.AudioBuffer),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
		logger:    c.logger,
	}
	go l.writeLoop()
	go l.readLoop()

	c.logger.Info("upstream link open", "session", sessionID, "upstream", begin.SessionID)
	return l, nil
}

const closeGrace = 2 * time.Second

// link is one live connection. The write loop is the only goroutine writing
// to the socket; the read loop is the only one closing the events channel.
type link struct {
	sessionID string
	conn      *websocket.Conn
	audio     chan []byte
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *log.Logger
}

// SendAudio queues a chunk for forwarding. It never blocks.
func (l *link) SendAudio(chunk []byte) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.audio <- chunk:
		return nil
	case <-l.done:
		return ErrLinkClosed
	default:
		return fmt.Errorf("session %s: audio buffer full", l.sessionID)
	}
}

// Events returns the single-consumer event channel.
func (l *link) Events() <-chan Event {
	return l.events
}

// Close is idempotent and safe to call from any goroutine, including while
// the terminal event is being delivered. It asks the upstream to flush and
// terminate, then releases the connection.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(closeGrace))
			_ = l.conn.WriteJSON(terminateFrame{TerminateSession: true})
			// Give the upstream a bounded window to flush pending finals
			// and acknowledge termination; the read loop exits on the
			// deadline if it never does.
			l.conn.SetReadDeadline(time.Now().Add(closeGrace))
			return
		case chunk := <-l.audio:
			l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			frame := audioFrame{AudioData: base64.StdEncoding.EncodeToString(chunk)}
			if err := l.conn.WriteJSON(frame); err != nil {
				l.logger.Warn("upstream write failed", "session", l.sessionID, "error", err)
				l.Close()
				l.conn.Close()
				return
			}
		}
	}
}

func (l *link) readLoop() {
	for {
		var msg serverMessage
		if err := l.conn.ReadJSON(&msg); err != nil {
			l.finish(err)
			return
		}

		switch msg.MessageType {
		case msgPartialTranscript:
			if msg.Text != "" {
				l.events <- Event{Kind: KindPartial, Text: msg.Text}
			}
		case msgFinalTranscript:
			if msg.Text != "" {
				l.events <- Event{Kind: KindFinal, Text: msg.Text}
			}
		case msgSessionTerminated:
			l.finish(nil)
			return
		default:
			if msg.Error != "" {
				l.finish(fmt.Errorf("upstream error: %s", msg.Error))
				return
			}
		}
	}
}

// finish emits the terminal event exactly once and releases the connection.
func (l *link) finish(readErr error) {
	requested := false
	select {
	case <-l.done:
		requested = true
	default:
	}
	l.Close()
	l.conn.Close()

	terminal := Event{Kind: KindClosed}
	if readErr != nil && !requested {
		terminal.Err = readErr
		l.logger.Warn("upstream link dropped", "session", l.sessionID, "error", readErr)
	} else {
		l.logger.Info("upstream link closed", "session", l.sessionID)
	}
	l.events <- terminal
	close(l.events)
}
