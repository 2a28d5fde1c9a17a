// Package search fans research queries out to search providers. A Fetcher
// wraps one provider call with bounded retries; the Executor runs every
// (query, provider) pair under a global concurrency cap, consults the result
// cache, and turns the raw candidates into deduplicated, scored and ranked
// sources.
package search

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrMalformedQuery is returned by providers when the query itself is
// unusable (empty, rejected by the backend as invalid). It is never retried.
var ErrMalformedQuery = errors.New("malformed search query")

type (
	// Provider is a search backend. Search returns at most limit candidates
	// for query. Implementations must be safe for concurrent use.
	Provider interface {
		Name() string
		Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	}

	// Candidate is a raw provider hit before scoring.
	Candidate struct {
		URL     string
		Title   string
		Content string
	}

	// SearchFunc is the signature of Provider.Search.
	SearchFunc func(ctx context.Context, query string, limit int) ([]Candidate, error)

	funcProvider struct {
		name string
		fn   SearchFunc
	}
)

// NewProvider adapts fn into a Provider named name.
func NewProvider(name string, fn SearchFunc) Provider {
	return funcProvider{name: name, fn: fn}
}

func (p funcProvider) Name() string { return p.name }

func (p funcProvider) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	return p.fn(ctx, query, limit)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
