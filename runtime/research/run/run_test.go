package run

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New("", "topic", 1)
	require.EqualError(t, err, "run id is required")
	_, err = New("r1", "   ", 1)
	require.EqualError(t, err, "topic is required")
	_, err = New("r1", "topic", -1)
	require.Error(t, err)

	r, err := New("r1", "  go generics  ", 2)
	require.NoError(t, err)
	require.Equal(t, "go generics", r.Topic())
	require.Equal(t, PhasePlanning, r.Phase())
	require.Zero(t, r.Iteration())
}

func TestHappyPathTransitions(t *testing.T) {
	r := mustNew(t, 2)
	require.NoError(t, r.Planned([]string{"q1", "q2"}))
	require.Equal(t, PhaseSearching, r.Phase())
	require.NoError(t, r.Searched([]Source{{URL: "https://a.example"}}))
	require.Equal(t, PhaseEvaluating, r.Phase())

	next, err := r.Evaluated(QualityReport{Overall: 9, Decision: DecisionAccept, Gaps: []string{"stale"}})
	require.NoError(t, err)
	require.Equal(t, PhaseWriting, next)
	require.Empty(t, r.Quality().Gaps)

	require.NoError(t, r.Completed("# report"))
	require.Equal(t, PhaseDone, r.Phase())
	require.Equal(t, "# report", r.Report())
}

func TestContinueLoopsBackAndIncrements(t *testing.T) {
	r := mustNew(t, 1)
	advanceToEvaluating(t, r)
	next, err := r.Evaluated(QualityReport{Overall: 3, Decision: DecisionContinue, Gaps: []string{"history"}})
	require.NoError(t, err)
	require.Equal(t, PhasePlanning, next)
	require.Equal(t, 1, r.Iteration())
	require.Equal(t, []string{"history"}, r.Gaps())
}

func TestCeilingOverridesContinue(t *testing.T) {
	r := mustNew(t, 0)
	advanceToEvaluating(t, r)
	next, err := r.Evaluated(QualityReport{Overall: 1, Decision: DecisionContinue, Gaps: []string{"everything"}})
	require.NoError(t, err)
	require.Equal(t, PhaseWriting, next)
	require.Equal(t, DecisionAccept, r.Quality().Decision)
	require.Empty(t, r.Quality().Gaps)
	require.Zero(t, r.Iteration())
}

func TestTerminalRunsRejectOperations(t *testing.T) {
	r := mustNew(t, 1)
	require.NoError(t, r.Fail(context.Canceled))
	require.Equal(t, PhaseFailed, r.Phase())
	require.Equal(t, ReasonCancelled, r.Reason())

	require.ErrorIs(t, r.Planned([]string{"q"}), ErrInvalidState)
	require.ErrorIs(t, r.Searched(nil), ErrInvalidState)
	_, err := r.Evaluated(QualityReport{})
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, r.Completed("x"), ErrInvalidState)
	require.ErrorIs(t, r.Fail(errors.New("again")), ErrInvalidState)
}

func TestFailedTransitionLeavesRunIntact(t *testing.T) {
	r := mustNew(t, 1)
	require.Error(t, r.Planned(nil))
	require.Equal(t, PhasePlanning, r.Phase())
	require.Empty(t, r.Queries())

	require.ErrorIs(t, r.Searched([]Source{{URL: "u"}}), ErrInvalidState)
	require.Empty(t, r.Sources())
}

func TestFailKeepsPartialProgress(t *testing.T) {
	r := mustNew(t, 1)
	advanceToEvaluating(t, r)
	require.NoError(t, r.Fail(NewError(ReasonEvaluation, errors.New("model unavailable"))))
	snap := r.Snapshot()
	require.Equal(t, PhaseFailed, snap.Phase)
	require.Equal(t, ReasonEvaluation, snap.Reason)
	require.Equal(t, "evaluation: model unavailable", snap.Error)
	require.Len(t, snap.Sources, 1)
	require.Equal(t, []string{"q"}, snap.Queries)
}

func TestSnapshotIsDetached(t *testing.T) {
	r := mustNew(t, 1)
	advanceToEvaluating(t, r)
	snap := r.Snapshot()
	snap.Sources[0].URL = "mutated"
	snap.Queries[0] = "mutated"
	require.Equal(t, "https://a.example", r.Sources()[0].URL)
	require.Equal(t, "q", r.Queries()[0])

	clone := snap.Clone()
	clone.Sources[0].Title = "changed"
	require.NotEqual(t, "changed", snap.Sources[0].Title)
}

func TestReasonOf(t *testing.T) {
	cases := []struct {
		err  error
		want Reason
	}{
		{nil, ""},
		{context.Canceled, ReasonCancelled},
		{fmt.Errorf("phase: %w", context.DeadlineExceeded), ReasonTimedOut},
		{fmt.Errorf("%w: no providers", ErrConfiguration), ReasonConfiguration},
		{NewError(ReasonPlanning, errors.New("empty plan")), ReasonPlanning},
		{errors.New("boom"), ReasonInternal},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ReasonOf(c.err), "%v", c.err)
	}
	require.ErrorIs(t, NewError(ReasonTimedOut, nil), ErrTimedOut)
	require.ErrorIs(t, NewError(ReasonCancelled, context.Canceled), context.Canceled)
}

func TestTransitionTable(t *testing.T) {
	require.True(t, CanTransition(PhaseEvaluating, PhasePlanning))
	require.False(t, CanTransition(PhaseSearching, PhasePlanning))
	require.False(t, CanTransition(PhaseDone, PhaseFailed))
	require.False(t, CanTransition(PhaseFailed, PhasePlanning))
	for _, p := range []Phase{PhasePlanning, PhaseSearching, PhaseEvaluating, PhaseWriting} {
		require.True(t, CanTransition(p, PhaseFailed), p)
	}
}

// TestIterationCeilingProperty drives runs whose gate always votes CONTINUE
// and checks the number of planning cycles never exceeds max+1.
func TestIterationCeilingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("planning cycles are bounded by max iterations + 1", prop.ForAll(
		func(k int) bool {
			r, err := New("r", "topic", k)
			if err != nil {
				return false
			}
			cycles := 0
			for r.Phase() == PhasePlanning {
				cycles++
				if cycles > k+1 {
					return false
				}
				if r.Planned([]string{"q"}) != nil || r.Searched(nil) != nil {
					return false
				}
				if _, err := r.Evaluated(QualityReport{Decision: DecisionContinue, Gaps: []string{"g"}}); err != nil {
					return false
				}
			}
			return r.Phase() == PhaseWriting && cycles == k+1 && r.Iteration() == k
		},
		gen.IntRange(0, 10),
	))

	properties.Property("accepted reports never carry gaps", prop.ForAll(
		func(k int, overall float64, continueVote bool) bool {
			r, _ := New("r", "topic", k)
			_ = r.Planned([]string{"q"})
			_ = r.Searched(nil)
			d := DecisionAccept
			if continueVote {
				d = DecisionContinue
			}
			if _, err := r.Evaluated(QualityReport{Overall: overall, Decision: d, Gaps: []string{"g"}}); err != nil {
				return false
			}
			q := r.Quality()
			return q.Decision == DecisionContinue || len(q.Gaps) == 0
		},
		gen.IntRange(0, 3),
		gen.Float64Range(0, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func mustNew(t *testing.T, maxIterations int) *Run {
	t.Helper()
	r, err := New("run-1", "topic", maxIterations)
	require.NoError(t, err)
	return r
}

func advanceToEvaluating(t *testing.T, r *Run) {
	t.Helper()
	require.NoError(t, r.Planned([]string{"q"}))
	require.NoError(t, r.Searched([]Source{{URL: "https://a.example", Title: "A"}}))
}
