package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	relaymodel "github.com/leks1107/AI-Copilot/internal/model/relay"
	relaysvc "github.com/leks1107/AI-Copilot/internal/service/relay"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
	// Outbound events queued per connection before the slowest clients
	// start losing events; a stalled client must not stall the registry.
	outboundBuffer = 64
)

// WebSocketHandler is the client session gateway: it accepts duplex client
// connections, dispatches inbound events to the registry, and pumps the
// registry's outbound events back in order.
type WebSocketHandler struct {
	registry *relaysvc.Registry
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWebSocketHandler creates the gateway.
func NewWebSocketHandler(registry *relaysvc.Registry, logger *log.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes mounts the transcription relay endpoint.
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/transcription", h.handleWebSocket)
}

// connSink bridges registry events onto one connection's writer pump.
// Send drops rather than blocks once the buffer is full.
type connSink struct {
	mu     sync.Mutex
	closed bool
	out    chan relaymodel.Outbound
	logger *log.Logger
}

func newConnSink(logger *log.Logger) *connSink {
	return &connSink{
		out:    make(chan relaymodel.Outbound, outboundBuffer),
		logger: logger,
	}
}

// Send implements relaysvc.Sink.
func (s *connSink) Send(ev relaymodel.Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- ev:
	default:
		s.logger.Warn("dropping outbound event, client too slow", "event", ev.Event)
	}
}

func (s *connSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sink := newConnSink(h.logger)
	sessionID := h.registry.RegisterSession(sink)
	h.logger.Info("client connected", "session", sessionID)

	defer func() {
		_ = h.registry.TerminateSession(sessionID)
		sink.close()
		h.logger.Info("client disconnected", "session", sessionID)
	}()

	// Single writer: outbound delivery order matches the order events were
	// handed to the sink, and pings share the same goroutine.
	go h.writePump(conn, sink, sessionID)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "session", sessionID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg relaymodel.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed payloads are scoped to this client; the connection
			// stays open.
			sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "failed to process message"})
			continue
		}

		h.handleInbound(sink, sessionID, &msg)
	}
}

func (h *WebSocketHandler) handleInbound(sink *connSink, sessionID string, msg *relaymodel.Inbound) {
	switch msg.Event {
	case relaymodel.EventAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "invalid audio encoding"})
			return
		}
		if err := h.registry.HandleAudioChunk(sessionID, audio); err != nil {
			h.notifyRegistryError(sink, err)
		}
	case relaymodel.EventResumeUpload:
		if len(msg.Resume) == 0 {
			sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "resume payload required"})
			return
		}
		if err := h.registry.HandleResumeUpdate(sessionID, msg.Resume); err != nil {
			h.notifyRegistryError(sink, err)
		}
	default:
		sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "unsupported event: " + msg.Event})
	}
}

func (h *WebSocketHandler) notifyRegistryError(sink *connSink, err error) {
	if errors.Is(err, relaysvc.ErrUnknownSession) {
		sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "unknown session"})
		return
	}
	sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "failed to process message"})
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, sink *connSink, sessionID string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sink.out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("outbound write failed", "session", sessionID, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
