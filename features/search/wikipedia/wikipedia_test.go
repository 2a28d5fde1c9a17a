package wikipedia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	long := strings.Repeat("é", MaxExtract+10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/w/api.php", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "search", q.Get("generator"))
		require.Equal(t, "rust ownership", q.Get("gsrsearch"))
		require.Equal(t, "2", q.Get("gsrlimit"))
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"query": {"pages": {
			"20": {"title": "Borrow checker", "index": 2, "extract": "` + long + `"},
			"10": {"title": "Rust (programming language)", "index": 1, "extract": "Rust is a language."}
		}}}`))
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	require.Equal(t, "wikipedia", p.Name())
	got, err := p.Search(context.Background(), "rust ownership", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Wikipedia: Rust (programming language)", got[0].Title)
	require.Equal(t, srv.URL+"/wiki/Rust_%28programming_language%29", got[0].URL)
	require.Equal(t, "Rust is a language.", got[0].Content)
	require.Equal(t, "Wikipedia: Borrow checker", got[1].Title)
	require.Equal(t, MaxExtract, utf8.RuneCountInString(got[1].Content))
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"batchcomplete": ""}`))
	}))
	defer srv.Close()
	got, err := New(Options{BaseURL: srv.URL}).Search(context.Background(), "zzzz", 3)
	require.NoError(t, err)
	require.Empty(t, got)
}
