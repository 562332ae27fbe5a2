// Package llm holds the contract of the response generator and its
// implementations: a Gemini REST client and a wrapper that bounds every call
// with a timeout and a process-wide concurrency cap.
package llm

import (
	"context"
	"errors"

	"github.com/tbourn/study-assistant/internal/domain"
)

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from generator")

// Turn is one prior exchange in a conversation, in provider-neutral form.
// Role is "user" or "assistant".
type Turn struct {
	Role    string
	Content string
}

// Generator produces a reply to prompt given the preceding history and at
// most one attachment. Implementations must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []Turn, attachment *domain.Attachment) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, history []Turn, attachment *domain.Attachment) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, history []Turn, attachment *domain.Attachment) (string, error) {
	return f(ctx, prompt, history, attachment)
}

// TurnsFromMessages converts stored messages into history turns.
func TurnsFromMessages(msgs []domain.Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}
