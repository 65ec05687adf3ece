package assist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leks1107/AI-Copilot/pkg/utils"
)

// Transcriber runs a finite audio buffer through the upstream service.
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, sessionID string, audio []byte) (string, error)
}

// Prompter renders answer-generation prompts.
type Prompter interface {
	BuildPrompt(transcript string, resume json.RawMessage) string
}

// Generator produces an answer for a prompt.
type Generator interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// Handler serves the stateless one-shot endpoints that mirror the relay
// pipeline stages: transcribe, build prompt, generate answer.
type Handler struct {
	transcriber Transcriber
	prompter    Prompter
	generator   Generator
	logger      *log.Logger
}

// New creates the handler. transcriber and generator may be nil when the
// corresponding service is not configured.
func New(transcriber Transcriber, prompter Prompter, generator Generator, logger *log.Logger) *Handler {
	return &Handler{
		transcriber: transcriber,
		prompter:    prompter,
		generator:   generator,
		logger:      logger,
	}
}

// RegisterRoutes mounts the endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe", h.handleTranscribe)
	r.Post("/prompt", h.handlePrompt)
	r.Post("/answer", h.handleAnswer)
	r.Post("/resume", h.handleResume)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	text, err := h.transcriber.TranscribeBuffer(r.Context(), uuid.NewString(), audio)
	if err != nil {
		h.logger.Error("one-shot transcription failed", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text})
}

type promptRequest struct {
	Transcript string          `json:"transcript"`
	Resume     json.RawMessage `json:"resume,omitempty"`
}

func (h *Handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		utils.RespondError(w, http.StatusBadRequest, "transcript is required")
		return
	}

	prompt := h.prompter.BuildPrompt(req.Transcript, req.Resume)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

type answerRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "answer generation not configured")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	answer, err := h.generator.GenerateAnswer(r.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("answer generation failed", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to generate answer")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

type resumeRequest struct {
	Resume json.RawMessage `json:"resume"`
}

// handleResume validates a resume payload. Resume storage is per-session and
// happens over the relay WebSocket; this endpoint lets clients check their
// payload before connecting.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Resume) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "resume is required")
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal(req.Resume, &parsed); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "resume must be a JSON object")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "resume accepted"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "relay",
	})
}
