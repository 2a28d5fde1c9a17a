// Package serper implements a search.Provider over the Serper Google search
// API.
package serper

import (
	"context"
	"errors"
	"net/http"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/httpsearch"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
)

// Name is the provider name recorded on sources.
const Name = "serper"

// DefaultBaseURL is the public Serper endpoint.
const DefaultBaseURL = "https://google.serper.dev"

type (
	// Options configures the provider.
	Options struct {
		APIKey  string
		BaseURL string
		HTTP    *http.Client
		QPS     float64
	}

	// Provider searches Serper.
	Provider struct {
		client *httpsearch.Client
	}

	request struct {
		Q   string `json:"q"`
		Num int    `json:"num"`
	}

	response struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
)

var _ search.Provider = (*Provider)(nil)

// New returns a Serper provider.
func New(opts Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("serper: api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	c := httpsearch.New(opts.BaseURL, opts.QPS)
	if opts.HTTP != nil {
		c.HTTP = opts.HTTP
	}
	c.Header.Set("X-API-KEY", opts.APIKey)
	return &Provider{client: c}, nil
}

// Name implements search.Provider.
func (p *Provider) Name() string { return Name }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	var resp response
	if err := p.client.PostJSON(ctx, Name, "/search", request{Q: query, Num: limit}, &resp); err != nil {
		return nil, err
	}
	out := make([]search.Candidate, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		if limit > 0 && len(out) == limit {
			break
		}
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, search.Candidate{URL: r.Link, Title: title, Content: r.Snippet})
	}
	return out, nil
}
