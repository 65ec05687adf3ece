package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	relaymodel "github.com/leks1107/AI-Copilot/internal/model/relay"
	sessionmodel "github.com/leks1107/AI-Copilot/internal/model/session"
	"github.com/leks1107/AI-Copilot/internal/service/transcription"
)

// ErrUnknownSession reports an operation referencing a session that is not in
// the registry. Callers holding the client connection should surface it as an
// error event; everyone else treats the operation as a no-op.
var ErrUnknownSession = errors.New("unknown session")

// Sink receives outbound events bound for one client connection. Send must
// not block; the registry calls it from session-owned goroutines.
type Sink interface {
	Send(ev relaymodel.Outbound)
}

// Prompter renders a prompt from a transcript and an optional resume
// snapshot. Implementations must be pure.
type Prompter interface {
	BuildPrompt(transcript string, resume json.RawMessage) string
}

// Generator produces an answer for a fully built prompt.
type Generator interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// Options tunes per-session behavior.
type Options struct {
	// GenerationTimeout bounds a single answer-generation call.
	GenerationTimeout time.Duration
	// JobBuffer bounds queued final transcripts per session.
	JobBuffer int
	// PendingAudio bounds audio chunks buffered while the upstream link is
	// still connecting; the oldest chunk is dropped on overflow.
	PendingAudio int
}

func (o Options) withDefaults() Options {
	if o.GenerationTimeout == 0 {
		o.GenerationTimeout = 30 * time.Second
	}
	if o.JobBuffer == 0 {
		o.JobBuffer = 16
	}
	if o.PendingAudio == 0 {
		o.PendingAudio = 32
	}
	return o
}

// Registry owns the set of active sessions. It creates upstream links
// lazily, routes audio and resume updates to the right session, and pipes
// final transcripts through prompt building and answer generation back to
// the owning client.
//
// The registry-wide mutex guards only the session map. Each entry has its
// own lock, so sessions never serialize on one another and no lock is held
// across upstream or generator I/O.
type Registry struct {
	opener    transcription.Opener
	prompter  Prompter
	generator Generator
	opts      Options
	logger    *log.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// New builds a Registry. generator may be nil when no provider is
// configured; final transcripts then produce error events instead of
// answers.
func New(opener transcription.Opener, prompter Prompter, generator Generator, opts Options, logger *log.Logger) *Registry {
	return &Registry{
		opener:    opener,
		prompter:  prompter,
		generator: generator,
		opts:      opts.withDefaults(),
		logger:    logger,
		sessions:  make(map[string]*entry),
	}
}

type generationJob struct {
	transcript string
}

type entry struct {
	id   string
	sink Sink

	// ctx is canceled on terminate; it parents every generation call so a
	// pending answer is abandoned best-effort when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     sessionmodel.Status
	resume     json.RawMessage
	stream     transcription.Stream
	connecting bool
	pending    [][]byte
	createdAt  time.Time

	jobs chan generationJob
}

// RegisterSession creates a new idle session bound to the given sink and
// returns its identifier.
func (r *Registry) RegisterSession(sink Sink) string {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:        uuid.NewString(),
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		status:    sessionmodel.Idle,
		createdAt: time.Now().UTC(),
		jobs:      make(chan generationJob, r.opts.JobBuffer),
	}

	r.mu.Lock()
	r.sessions[e.id] = e
	r.mu.Unlock()

	go r.generationWorker(e)

	r.logger.Info("session registered", "session", e.id)
	return e.id
}

// Snapshot returns a read-only view of a session.
func (r *Registry) Snapshot(sessionID string) (sessionmodel.Session, bool) {
	e := r.lookup(sessionID)
	if e == nil {
		return sessionmodel.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sessionmodel.Session{
		ID:        e.id,
		Status:    e.status,
		Resume:    e.resume,
		CreatedAt: e.createdAt,
	}, true
}

// HandleAudioChunk forwards a decoded audio chunk to the session's upstream
// link, creating the link on first use. It never blocks on upstream I/O.
func (r *Registry) HandleAudioChunk(sessionID string, chunk []byte) error {
	e := r.lookup(sessionID)
	if e == nil {
		return ErrUnknownSession
	}

	e.mu.Lock()
	switch {
	case e.status == sessionmodel.Closing || e.status == sessionmodel.Closed:
		e.mu.Unlock()
		return nil
	case e.stream != nil:
		st := e.stream
		e.mu.Unlock()
		if err := st.SendAudio(chunk); err != nil {
			// Dropped chunks are not fatal; the link reports terminal
			// failures through its event channel.
			r.logger.Warn("audio forward failed", "session", e.id, "error", err)
		}
		return nil
	case e.connecting:
		e.bufferPending(chunk, r.opts.PendingAudio)
		e.mu.Unlock()
		return nil
	default:
		// Atomic create-if-absent: the connecting latch guarantees at most
		// one in-flight upstream attempt per session.
		e.connecting = true
		e.status = sessionmodel.ConnectingUpstream
		e.bufferPending(chunk, r.opts.PendingAudio)
		e.mu.Unlock()
		go r.openUpstream(e)
		return nil
	}
}

// bufferPending appends while holding e.mu, dropping the oldest chunk once
// the bound is reached.
func (e *entry) bufferPending(chunk []byte, max int) {
	if len(e.pending) >= max {
		e.pending = e.pending[1:]
	}
	e.pending = append(e.pending, chunk)
}

func (r *Registry) openUpstream(e *entry) {
	stream, err := r.opener.Open(e.ctx, e.id)

	e.mu.Lock()
	if err != nil {
		e.connecting = false
		e.pending = nil
		if e.status == sessionmodel.ConnectingUpstream {
			e.status = sessionmodel.Idle
		}
		e.mu.Unlock()
		r.logger.Warn("upstream open failed", "session", e.id, "error", err)
		e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventStatus, Status: relaymodel.StatusDisconnected})
		return
	}

	if e.status == sessionmodel.Closing || e.status == sessionmodel.Closed {
		e.mu.Unlock()
		stream.Close()
		return
	}

	e.stream = stream
	e.connecting = false
	e.status = sessionmodel.Streaming
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventStatus, Status: relaymodel.StatusConnected})
	for _, chunk := range pending {
		if err := stream.SendAudio(chunk); err != nil {
			r.logger.Warn("audio forward failed", "session", e.id, "error", err)
		}
	}

	go r.consumeEvents(e, stream)
}

// consumeEvents is the single consumer of one link's event channel, so
// upstream ordering is preserved by construction.
func (r *Registry) consumeEvents(e *entry, stream transcription.Stream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case transcription.KindPartial:
			r.logger.Debug("partial transcript", "session", e.id, "text", ev.Text)
		case transcription.KindFinal:
			select {
			case e.jobs <- generationJob{transcript: ev.Text}:
			case <-e.ctx.Done():
				return
			}
		case transcription.KindClosed:
			r.upstreamClosed(e, stream)
		}
	}
}

// upstreamClosed clears the dead link so a later audio chunk can lazily
// recreate it. No automatic reconnect: the drop is surfaced to the client as
// a disconnected status and the session stays registered.
func (r *Registry) upstreamClosed(e *entry, stream transcription.Stream) {
	e.mu.Lock()
	if e.stream == stream {
		e.stream = nil
		if e.status == sessionmodel.Streaming {
			e.status = sessionmodel.Idle
		}
	}
	closing := e.status == sessionmodel.Closing || e.status == sessionmodel.Closed
	e.mu.Unlock()

	if !closing {
		e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventStatus, Status: relaymodel.StatusDisconnected})
	}
}

// generationWorker processes final transcripts for one session in arrival
// order. A slow call here never delays audio forwarding or other sessions.
func (r *Registry) generationWorker(e *entry) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-e.jobs:
			r.runGeneration(e, job)
		}
	}
}

func (r *Registry) runGeneration(e *entry, job generationJob) {
	// The resume snapshot is whatever is current when the job is dequeued;
	// later uploads apply to later transcripts only.
	e.mu.Lock()
	resume := e.resume
	e.mu.Unlock()

	if r.generator == nil {
		e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "answer generation unavailable"})
		return
	}

	prompt := r.prompter.BuildPrompt(job.transcript, resume)

	ctx, cancel := context.WithTimeout(e.ctx, r.opts.GenerationTimeout)
	answer, err := r.generator.GenerateAnswer(ctx, prompt)
	cancel()

	if e.ctx.Err() != nil {
		// Session terminated mid-flight; discard the result.
		return
	}
	if err != nil {
		r.logger.Error("answer generation failed", "session", e.id, "error", err)
		e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventError, Text: "failed to generate answer"})
		return
	}

	r.logger.Info("answer ready", "session", e.id, "transcript_len", len(job.transcript), "answer_len", len(answer))
	e.sink.Send(relaymodel.Outbound{Event: relaymodel.EventAnswerReady, Text: answer})
}

// HandleResumeUpdate replaces the session's resume wholesale. The update is
// visible to every generation job dequeued afterwards.
func (r *Registry) HandleResumeUpdate(sessionID string, resume json.RawMessage) error {
	e := r.lookup(sessionID)
	if e == nil {
		return ErrUnknownSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == sessionmodel.Closing || e.status == sessionmodel.Closed {
		return nil
	}
	e.resume = resume
	return nil
}

// TerminateSession tears a session down: cancels pending generation,
// closes the upstream link and removes the registry entry.
func (r *Registry) TerminateSession(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	e.mu.Lock()
	e.status = sessionmodel.Closing
	stream := e.stream
	e.stream = nil
	e.pending = nil
	e.mu.Unlock()

	e.cancel()
	if stream != nil {
		stream.Close()
	}

	e.mu.Lock()
	e.status = sessionmodel.Closed
	e.mu.Unlock()

	r.logger.Info("session terminated", "session", sessionID)
	return nil
}

// Close terminates every active session; used on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.TerminateSession(id)
	}
}

func (r *Registry) lookup(sessionID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}
