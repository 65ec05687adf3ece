package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/leks1107/AI-Copilot/internal/service/ai"
)

type stubTranscriber struct {
	text  string
	err   error
	audio []byte
}

func (s *stubTranscriber) TranscribeBuffer(ctx context.Context, sessionID string, audio []byte) (string, error) {
	s.audio = audio
	return s.text, s.err
}

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (s *stubGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.answer, s.err
}

func newTestServer(t *testing.T, transcriber Transcriber, generator Generator) *httptest.Server {
	t.Helper()
	h := New(transcriber, ai.NewBuilder(), generator, log.New(io.Discard))
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestTranscribeEndpoint(t *testing.T) {
	transcriber := &stubTranscriber{text: "tell me about yourself"}
	srv := newTestServer(t, transcriber, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "sample.raw")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("pcm-bytes"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/transcribe: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["text"] != "tell me about yourself" {
		t.Fatalf("text = %q", decoded["text"])
	}
	if string(transcriber.audio) != "pcm-bytes" {
		t.Fatalf("audio passed to transcriber = %q", transcriber.audio)
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	srv := newTestServer(t, &stubTranscriber{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no audio here")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, err := http.Post(srv.URL+"/api/transcribe", "multipart/form-data", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestPromptEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, decoded := postJSON(t, srv.URL+"/api/prompt",
		`{"transcript":"What is your greatest strength?","resume":{"skills":["Go"]}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	prompt := decoded["prompt"]
	if !strings.Contains(prompt, "What is your greatest strength?") {
		t.Fatalf("prompt missing transcript: %q", prompt)
	}
	if !strings.Contains(prompt, "Go") {
		t.Fatalf("prompt missing resume: %q", prompt)
	}
}

func TestPromptRequiresTranscript(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, _ := postJSON(t, srv.URL+"/api/prompt", `{"transcript":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAnswerEndpoint(t *testing.T) {
	gen := &stubGenerator{answer: "a confident answer"}
	srv := newTestServer(t, nil, gen)

	resp, decoded := postJSON(t, srv.URL+"/api/answer", `{"prompt":"the prompt"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if decoded["answer"] != "a confident answer" {
		t.Fatalf("answer = %q", decoded["answer"])
	}
	if gen.prompt != "the prompt" {
		t.Fatalf("generator got prompt %q", gen.prompt)
	}
}

func TestAnswerGeneratorFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("provider down")}
	srv := newTestServer(t, nil, gen)

	resp, _ := postJSON(t, srv.URL+"/api/answer", `{"prompt":"the prompt"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestAnswerUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, _ := postJSON(t, srv.URL+"/api/answer", `{"prompt":"p"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestResumeValidation(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, decoded := postJSON(t, srv.URL+"/api/resume", `{"resume":{"name":"Sam"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if decoded["message"] != "resume accepted" {
		t.Fatalf("message = %q", decoded["message"])
	}

	resp, _ = postJSON(t, srv.URL+"/api/resume", `{"resume":"just a string"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-object resume: status = %d, want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv.URL+"/api/resume", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing resume: status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
