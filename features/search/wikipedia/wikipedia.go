// Package wikipedia implements a search.Provider over the MediaWiki API. A
// single generator query returns the matching articles together with their
// plain-text introductions.
package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/httpsearch"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
)

// Name is the provider name recorded on sources.
const Name = "wikipedia"

// DefaultBaseURL is the English Wikipedia.
const DefaultBaseURL = "https://en.wikipedia.org"

// MaxExtract caps the article extract kept as content.
const MaxExtract = 2000

type (
	// Options configures the provider.
	Options struct {
		BaseURL string
		HTTP    *http.Client
		QPS     float64
		// UserAgent identifies the client to Wikimedia.
		UserAgent string
	}

	// Provider searches Wikipedia.
	Provider struct {
		client *httpsearch.Client
		base   string
	}

	response struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Index   int    `json:"index"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
)

var _ search.Provider = (*Provider)(nil)

// New returns a Wikipedia provider. It needs no credentials.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "deep-research/1.0"
	}
	c := httpsearch.New(opts.BaseURL, opts.QPS)
	if opts.HTTP != nil {
		c.HTTP = opts.HTTP
	}
	c.Header.Set("User-Agent", opts.UserAgent)
	return &Provider{client: c, base: strings.TrimRight(opts.BaseURL, "/")}
}

// Name implements search.Provider.
func (p *Provider) Name() string { return Name }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	if limit <= 0 {
		limit = 3
	}
	params := url.Values{
		"action":      {"query"},
		"generator":   {"search"},
		"gsrsearch":   {query},
		"gsrlimit":    {strconv.Itoa(limit)},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"exlimit":     {"max"},
		"format":      {"json"},
		"utf8":        {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/w/api.php?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	var resp response
	if err := p.client.DoJSON(Name, req, &resp); err != nil {
		return nil, err
	}
	pages := make([]struct {
		title, extract string
		index          int
	}, 0, len(resp.Query.Pages))
	for _, pg := range resp.Query.Pages {
		pages = append(pages, struct {
			title, extract string
			index          int
		}{pg.Title, pg.Extract, pg.Index})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })

	out := make([]search.Candidate, 0, len(pages))
	for _, pg := range pages {
		if pg.title == "" {
			continue
		}
		out = append(out, search.Candidate{
			URL:     p.base + "/wiki/" + url.PathEscape(strings.ReplaceAll(pg.title, " ", "_")),
			Title:   "Wikipedia: " + pg.title,
			Content: search.Truncate(pg.extract, MaxExtract),
		})
	}
	return out, nil
}
