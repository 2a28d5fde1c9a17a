// Package tavily implements a search.Provider over the Tavily search API.
package tavily

import (
	"context"
	"errors"
	"net/http"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/httpsearch"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
)

// Name is the provider name recorded on sources.
const Name = "tavily"

// DefaultBaseURL is the public Tavily endpoint.
const DefaultBaseURL = "https://api.tavily.com"

type (
	// Options configures the provider.
	Options struct {
		APIKey string
		// Depth is "basic" or "advanced". Default "advanced".
		Depth   string
		BaseURL string
		HTTP    *http.Client
		// QPS throttles requests. Zero disables throttling.
		QPS float64
	}

	// Provider searches Tavily.
	Provider struct {
		client *httpsearch.Client
		depth  string
	}

	request struct {
		Query       string `json:"query"`
		SearchDepth string `json:"search_depth"`
		MaxResults  int    `json:"max_results"`
	}

	response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
)

var _ search.Provider = (*Provider)(nil)

// New returns a Tavily provider.
func New(opts Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("tavily: api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Depth == "" {
		opts.Depth = "advanced"
	}
	c := httpsearch.New(opts.BaseURL, opts.QPS)
	if opts.HTTP != nil {
		c.HTTP = opts.HTTP
	}
	c.Header.Set("Authorization", "Bearer "+opts.APIKey)
	return &Provider{client: c, depth: opts.Depth}, nil
}

// Name implements search.Provider.
func (p *Provider) Name() string { return Name }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	var resp response
	err := p.client.PostJSON(ctx, Name, "/search", request{Query: query, SearchDepth: p.depth, MaxResults: limit}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]search.Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, search.Candidate{URL: r.URL, Title: title, Content: r.Content})
	}
	return out, nil
}
