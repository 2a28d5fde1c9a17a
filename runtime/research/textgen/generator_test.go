package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

type stubCompleter struct {
	answers []string
	err     error
	prompts []Prompt
}

func (s *stubCompleter) Complete(_ context.Context, p Prompt) (string, error) {
	s.prompts = append(s.prompts, p)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", errors.New("no answer queued")
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func newGenerator(t *testing.T, c Completer, opts Options) *Generator {
	t.Helper()
	g, err := New(c, opts)
	require.NoError(t, err)
	return g
}

func TestPlanParsesFencedJSON(t *testing.T) {
	stub := &stubCompleter{answers: []string{"Sure!\n```json\n{\"queries\": [\" a \", \"\", \"b\", \"c\"], \"reasoning\": \"x\"}\n```"}}
	g := newGenerator(t, stub, Options{MaxQueries: 2})
	queries, err := g.Plan(context.Background(), "topic", []string{"missing history"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, queries)

	p := stub.prompts[0]
	require.True(t, p.JSON)
	require.Contains(t, p.User, "missing history")
	require.Contains(t, p.User, "at most 2")
	require.Equal(t, 4096, p.MaxTokens)
}

func TestPlanDropsBlankQueries(t *testing.T) {
	stub := &stubCompleter{answers: []string{`{"queries": ["solar storage costs", "", "grid batteries", "   "]}`}}
	g := newGenerator(t, stub, Options{})
	queries, err := g.Plan(context.Background(), "energy storage", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"solar storage costs", "grid batteries"}, queries)
}

func TestPlanRejectsInvalidShape(t *testing.T) {
	cases := []string{
		"no json here",
		`{"queries": []}`,
		`{"queries": "one"}`,
		`{"reasoning": "no queries"}`,
	}
	for _, answer := range cases {
		g := newGenerator(t, &stubCompleter{answers: []string{answer}}, Options{})
		_, err := g.Plan(context.Background(), "topic", nil)
		require.ErrorIs(t, err, ErrInvalidOutput, answer)
	}
}

func TestAssess(t *testing.T) {
	answer := `{"overall_score": 6.5, "completeness": 5, "source_diversity": 7, "fact_consistency": 8,
		"gaps": ["recent data"], "suggestions": ["search 2025 statistics"]}`
	stub := &stubCompleter{answers: []string{answer}}
	g := newGenerator(t, stub, Options{SourceChars: 4})
	a, err := g.Assess(context.Background(), "topic", []run.Source{{Title: "T", URL: "u", Content: "abcdefgh"}})
	require.NoError(t, err)
	require.InDelta(t, 6.5, a.Overall, 0)
	require.Equal(t, []string{"recent data", "search 2025 statistics"}, a.Gaps)
	require.Contains(t, stub.prompts[0].User, "abcd\n")
	require.NotContains(t, stub.prompts[0].User, "abcde")
}

func TestAssessRejectsOutOfRangeScores(t *testing.T) {
	answer := `{"overall_score": 12, "completeness": 5, "source_diversity": 7, "fact_consistency": 8}`
	g := newGenerator(t, &stubCompleter{answers: []string{answer}}, Options{})
	_, err := g.Assess(context.Background(), "topic", nil)
	require.ErrorIs(t, err, ErrInvalidOutput)
}

func TestWriteUsesTopSources(t *testing.T) {
	stub := &stubCompleter{answers: []string{"  # Report  \n"}}
	g := newGenerator(t, stub, Options{WriterSources: 2})
	sources := make([]run.Source, 5)
	for i := range sources {
		sources[i] = run.Source{Title: fmt.Sprintf("source-%d", i), URL: "u"}
	}
	report, err := g.Write(context.Background(), "topic", sources, run.QualityReport{Overall: 8})
	require.NoError(t, err)
	require.Equal(t, "# Report", report)
	user := stub.prompts[0].User
	require.Contains(t, user, "source-1")
	require.NotContains(t, user, "source-2")
	require.False(t, stub.prompts[0].JSON)
	require.Equal(t, 2, strings.Count(user, "URL: "))
}

func TestCompleterErrorsPropagate(t *testing.T) {
	g := newGenerator(t, &stubCompleter{err: ErrRateLimited}, Options{})
	_, err := g.Plan(context.Background(), "topic", nil)
	require.ErrorIs(t, err, ErrRateLimited)
	_, err = g.Write(context.Background(), "topic", nil, run.QualityReport{})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestNewRequiresCompleter(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, p Prompt) (string, error) {
		return p.User, nil
	})
	out, err := c.Complete(context.Background(), Prompt{User: "echo"})
	require.NoError(t, err)
	require.Equal(t, "echo", out)
}
