package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const promptSystemMessage = "You are an AI interview assistant. Your task is to provide a confident, concise, and professional response to the interview question. Use the STAR format (Situation, Task, Action, Result) when appropriate."

// Builder renders answer-generation prompts. It carries no state: identical
// inputs always produce identical output.
type Builder struct{}

// NewBuilder returns the prompt builder.
func NewBuilder() Builder {
	return Builder{}
}

// BuildPrompt combines the transcript with an optional resume snapshot into
// the prompt handed to the generator. It is total: malformed resume JSON is
// embedded as-is rather than failing the build.
func (Builder) BuildPrompt(transcript string, resume json.RawMessage) string {
	var b strings.Builder
	b.WriteString(promptSystemMessage)
	b.WriteString("\n\n")

	if len(resume) > 0 {
		b.WriteString("Based on this resume: ")
		b.WriteString(compactJSON(resume))
		b.WriteString(", ")
	}

	fmt.Fprintf(&b, "The interviewer asked: %q. Provide a natural, conversational response that demonstrates expertise and confidence.", transcript)
	return b.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
