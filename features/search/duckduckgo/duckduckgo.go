// Package duckduckgo implements a keyless search.Provider by scraping the
// DuckDuckGo lite HTML interface.
package duckduckgo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/httpsearch"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
)

// Name is the provider name recorded on sources.
const Name = "duckduckgo"

// DefaultBaseURL is the lite endpoint.
const DefaultBaseURL = "https://lite.duckduckgo.com"

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type (
	// Options configures the provider.
	Options struct {
		BaseURL string
		HTTP    *http.Client
		// QPS throttles requests. Default 1.
		QPS float64
	}

	// Provider searches DuckDuckGo.
	Provider struct {
		client *httpsearch.Client
	}
)

var _ search.Provider = (*Provider)(nil)

// New returns a DuckDuckGo provider.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.QPS <= 0 {
		opts.QPS = 1
	}
	c := httpsearch.New(opts.BaseURL, opts.QPS)
	if opts.HTTP != nil {
		c.HTTP = opts.HTTP
	}
	c.Header.Set("User-Agent", userAgent)
	return &Provider{client: c}
}

// Name implements search.Provider.
func (p *Provider) Name() string { return Name }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.client.BaseURL+"/lite/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := p.client.Do(Name, req)
	if err != nil {
		return nil, err
	}
	out, err := parseResults(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// parseResults walks the lite result table. Each hit is an
// a.result-link followed by a td.result-snippet.
func parseResults(body []byte) ([]search.Candidate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []search.Candidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.A && hasClass(n, "result-link"):
				href := resolveRedirect(attr(n, "href"))
				title := strings.TrimSpace(text(n))
				if href != "" && title != "" {
					out = append(out, search.Candidate{URL: href, Title: title})
				}
			case n.DataAtom == atom.Td && hasClass(n, "result-snippet"):
				if len(out) > 0 && out[len(out)-1].Content == "" {
					out[len(out)-1].Content = strings.Join(strings.Fields(text(n)), " ")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
