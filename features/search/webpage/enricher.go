// Package webpage decorates a search provider with page fetching: hits whose
// snippet is short are replaced by the markdown rendering of the page they
// point to.
package webpage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

const maxPage = 4 << 20

type (
	// Options configures an Enricher.
	Options struct {
		HTTP *http.Client
		// MinContent is the snippet length, in runes, below which the page
		// is fetched. Default 500.
		MinContent int
		// MaxContent truncates fetched page content. Default 5000.
		MaxContent int
		// Concurrency bounds page fetches per search call. Default 4.
		Concurrency int
		Logger      telemetry.Logger
	}

	// Enricher is a search.Provider that delegates to another provider and
	// fills in page content.
	Enricher struct {
		next search.Provider
		conv *Converter
		opts Options
	}
)

var _ search.Provider = (*Enricher)(nil)

// New wraps next.
func New(next search.Provider, opts Options) *Enricher {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.MinContent <= 0 {
		opts.MinContent = 500
	}
	if opts.MaxContent <= 0 {
		opts.MaxContent = 5000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Enricher{next: next, conv: NewConverter(), opts: opts}
}

// Name returns the wrapped provider's name so cached entries and source
// attribution are unchanged.
func (e *Enricher) Name() string { return e.next.Name() }

// Search runs the wrapped search then fetches pages for short hits. Page
// failures keep the original snippet.
func (e *Enricher) Search(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	cands, err := e.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]search.Candidate, len(cands))
	copy(out, cands)
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range out {
		if out[i].URL == "" || utf8.RuneCountInString(out[i].Content) >= e.opts.MinContent {
			continue
		}
		g.Go(func() error {
			content, err := e.page(ctx, out[i].URL)
			if err != nil {
				e.opts.Logger.Debug(ctx, "page fetch skipped", "url", out[i].URL, "err", err)
				return nil
			}
			if utf8.RuneCountInString(content) > utf8.RuneCountInString(out[i].Content) {
				out[i].Content = search.Truncate(content, e.opts.MaxContent)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (e *Enricher) page(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := e.opts.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != "text/html" {
		return "", fmt.Errorf("unsupported content type %q", resp.Header.Get("Content-Type"))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPage))
	if err != nil {
		return "", err
	}
	_, markdown, err := e.conv.Convert(body)
	return markdown, err
}
