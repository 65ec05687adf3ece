package ai

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable reports a provider error or timeout during answer
// generation. It is scoped to the triggering transcript; the session stays
// alive.
var ErrGenerationUnavailable = errors.New("answer generation unavailable")

// Generator produces an answer for a fully built prompt.
type Generator interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// generationSystemPrompt frames every provider call.
const generationSystemPrompt = "You are an AI interview assistant. Provide concise, professional responses."
