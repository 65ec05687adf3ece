package relay

import (
	"context"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	relaymodel "github.com/leks1107/AI-Copilot/internal/model/relay"
	"github.com/leks1107/AI-Copilot/internal/service/ai"
	relaysvc "github.com/leks1107/AI-Copilot/internal/service/relay"
	"github.com/leks1107/AI-Copilot/internal/service/transcription"
)

type stubStream struct {
	mu     sync.Mutex
	audio  [][]byte
	events chan transcription.Event
	once   sync.Once
	closed int
}

func (s *stubStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, chunk)
	return nil
}

func (s *stubStream) Events() <-chan transcription.Event { return s.events }

func (s *stubStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *stubStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubStream) audioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

type stubOpener struct {
	opened chan *stubStream
}

func (o *stubOpener) Open(ctx context.Context, sessionID string) (transcription.Stream, error) {
	s := &stubStream{events: make(chan transcription.Event, 16)}
	o.opened <- s
	return s, nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	return "generated answer", nil
}

func newTestGateway(t *testing.T) (*websocket.Conn, *stubOpener) {
	t.Helper()

	logger := log.New(io.Discard)
	opener := &stubOpener{opened: make(chan *stubStream, 4)}
	registry := relaysvc.New(opener, ai.NewBuilder(), stubGenerator{}, relaysvc.Options{}, logger)
	t.Cleanup(registry.Close)

	r := chi.NewRouter()
	NewWebSocketHandler(registry, logger).RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcription"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, opener
}

func readEvent(t *testing.T, conn *websocket.Conn) relaymodel.Outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev relaymodel.Outbound
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func openedStream(t *testing.T, opener *stubOpener) *stubStream {
	t.Helper()
	select {
	case s := <-opener.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never opened")
		return nil
	}
}

func TestRelayRoundTrip(t *testing.T) {
	conn, opener := newTestGateway(t)

	resume := map[string]any{
		"event":  relaymodel.EventResumeUpload,
		"resume": map[string]any{"skills": []string{"Go"}},
	}
	if err := conn.WriteJSON(resume); err != nil {
		t.Fatalf("send resume: %v", err)
	}

	chunk := map[string]any{
		"event": relaymodel.EventAudioChunk,
		"audio": base64.StdEncoding.EncodeToString([]byte("pcm-bytes")),
	}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	stream := openedStream(t, opener)
	ev := readEvent(t, conn)
	if ev.Event != relaymodel.EventStatus || ev.Status != relaymodel.StatusConnected {
		t.Fatalf("first event = %+v, want connected status", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(stream.audioChunks()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	chunks := stream.audioChunks()
	if len(chunks) != 1 || string(chunks[0]) != "pcm-bytes" {
		t.Fatalf("forwarded audio = %q", chunks)
	}

	stream.events <- transcription.Event{Kind: transcription.KindFinal, Text: "Tell me about yourself"}
	ev = readEvent(t, conn)
	if ev.Event != relaymodel.EventAnswerReady || ev.Text != "generated answer" {
		t.Fatalf("event = %+v, want answer_ready", ev)
	}
}

func TestMalformedJSONKeepsConnectionOpen(t *testing.T) {
	conn, opener := newTestGateway(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != relaymodel.EventError || ev.Text != "failed to process message" {
		t.Fatalf("event = %+v, want processing error", ev)
	}

	// The same connection still relays audio afterwards.
	chunk := map[string]any{
		"event": relaymodel.EventAudioChunk,
		"audio": base64.StdEncoding.EncodeToString([]byte("pcm")),
	}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	openedStream(t, opener)
	ev = readEvent(t, conn)
	if ev.Event != relaymodel.EventStatus || ev.Status != relaymodel.StatusConnected {
		t.Fatalf("event = %+v, want connected status", ev)
	}
}

func TestInvalidAudioEncoding(t *testing.T) {
	conn, _ := newTestGateway(t)

	chunk := map[string]any{"event": relaymodel.EventAudioChunk, "audio": "not-base64!!!"}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != relaymodel.EventError || ev.Text != "invalid audio encoding" {
		t.Fatalf("event = %+v, want encoding error", ev)
	}
}

func TestUnsupportedEvent(t *testing.T) {
	conn, _ := newTestGateway(t)

	if err := conn.WriteJSON(map[string]any{"event": "mystery"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != relaymodel.EventError || !strings.Contains(ev.Text, "mystery") {
		t.Fatalf("event = %+v, want unsupported-event error", ev)
	}
}

func TestEmptyResumeRejected(t *testing.T) {
	conn, _ := newTestGateway(t)

	if err := conn.WriteJSON(map[string]any{"event": relaymodel.EventResumeUpload}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != relaymodel.EventError || ev.Text != "resume payload required" {
		t.Fatalf("event = %+v, want resume error", ev)
	}
}

func TestClientDisconnectTerminatesSession(t *testing.T) {
	conn, opener := newTestGateway(t)

	chunk := map[string]any{
		"event": relaymodel.EventAudioChunk,
		"audio": base64.StdEncoding.EncodeToString([]byte("pcm")),
	}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	stream := openedStream(t, opener)
	readEvent(t, conn)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stream.closeCount() >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("upstream link not closed after client disconnect")
}
