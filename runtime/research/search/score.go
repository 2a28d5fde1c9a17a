package search

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

const (
	maxScore = 10.0
	// lengthUnit is the number of runes worth one length point.
	lengthUnit = 500
	maxLength  = 5.0
	baseScore  = 3.0
	// overlapWeight is the relevance earned per shared topic word.
	overlapWeight = 2.0
)

// DefaultTrustBonus is the fixed quality bonus granted per provider.
var DefaultTrustBonus = map[string]float64{
	"tavily":    2,
	"wikipedia": 2,
}

// Scorer computes relevance and quality scores.
type Scorer struct {
	// TrustBonus maps provider names to a fixed quality bonus.
	TrustBonus map[string]float64
}

// Relevance counts the distinct topic words that occur in content, two
// points each, capped at 10.
func (s Scorer) Relevance(topic, content string) float64 {
	words := vocabulary(content)
	overlap := 0
	for w := range vocabulary(topic) {
		if _, ok := words[w]; ok {
			overlap++
		}
	}
	return min(maxScore, float64(overlap)*overlapWeight)
}

// Quality grants up to 5 points for content length (one per 500 runes), the
// provider trust bonus, and a base of 3, capped at 10.
func (s Scorer) Quality(provider, content string) float64 {
	length := min(maxLength, float64(utf8.RuneCountInString(content))/lengthUnit)
	return min(maxScore, length+s.TrustBonus[provider]+baseScore)
}

// Score fills in both scores of src for topic.
func (s Scorer) Score(topic string, src run.Source) run.Source {
	src.RelevanceScore = s.Relevance(topic, src.Content)
	src.QualityScore = s.Quality(src.Provider, src.Content)
	return src
}

// Rank scores sources, removes duplicates by normalized URL keeping the
// higher combined score (first seen on ties), and sorts them by combined
// score descending. The sort is stable so ties keep discovery order.
// Sources without a URL are dropped.
func (s Scorer) Rank(topic string, sources []run.Source) []run.Source {
	out := make([]run.Source, 0, len(sources))
	index := make(map[string]int, len(sources))
	for _, src := range sources {
		key := NormalizeURL(src.URL)
		if key == "" {
			continue
		}
		src = s.Score(topic, src)
		if i, ok := index[key]; ok {
			if src.Score() > out[i].Score() {
				out[i] = src
			}
			continue
		}
		index[key] = len(out)
		out = append(out, src)
	}
	slices.SortStableFunc(out, func(a, b run.Source) int {
		return cmp.Compare(b.Score(), a.Score())
	})
	return out
}

// NormalizeURL returns the identity used for deduplication: lower-case
// scheme and host without "www." or default ports, no fragment, no tracking
// parameters, no trailing slash.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	if scheme == "http" {
		scheme = "https"
	}
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	out := scheme + "://" + host + strings.TrimSuffix(u.EscapedPath(), "/")
	if enc := q.Encode(); enc != "" {
		out += "?" + enc
	}
	return out
}

func vocabulary(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
