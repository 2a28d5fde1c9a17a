// Package textgen adapts a language model into the planner, quality assessor
// and report writer used by the research engine. Models are reached through
// the Completer seam; structured answers are validated against JSON schemas
// before they are trusted.
package textgen

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is returned by Completers when the provider throttled
	// the request. Rate limiting middleware backs off on it.
	ErrRateLimited = errors.New("model rate limited")
	// ErrInvalidOutput is returned when a model answer does not match the
	// expected structure.
	ErrInvalidOutput = errors.New("invalid model output")
)

type (
	// Prompt is a single-turn completion request.
	Prompt struct {
		System      string
		User        string
		MaxTokens   int
		Temperature float64
		// JSON asks the model to answer with a single JSON object.
		JSON bool
	}

	// Completer sends a prompt to a model and returns the text answer.
	Completer interface {
		Complete(ctx context.Context, p Prompt) (string, error)
	}

	// CompleterFunc adapts a function into a Completer.
	CompleterFunc func(ctx context.Context, p Prompt) (string, error)
)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}
