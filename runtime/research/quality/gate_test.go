package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

func fixed(a Assessment) Assessor {
	return AssessFunc(func(context.Context, string, []run.Source) (Assessment, error) {
		return a, nil
	})
}

var someSources = []run.Source{{URL: "https://a.example"}}

func TestContinueCarriesGaps(t *testing.T) {
	g := NewGate(fixed(Assessment{Overall: 5, Gaps: []string{" history ", "", "history", "costs"}}))
	report, err := g.Evaluate(context.Background(), someSources, "topic", 0, 2)
	require.NoError(t, err)
	require.Equal(t, run.DecisionContinue, report.Decision)
	require.Equal(t, []string{"history", "costs"}, report.Gaps)
}

func TestAcceptClearsGaps(t *testing.T) {
	g := NewGate(fixed(Assessment{Overall: 8.5, Gaps: []string{"minor"}}))
	report, err := g.Evaluate(context.Background(), someSources, "topic", 0, 2)
	require.NoError(t, err)
	require.Equal(t, run.DecisionAccept, report.Decision)
	require.NotNil(t, report.Gaps)
	require.Empty(t, report.Gaps)
}

func TestCeilingForcesAccept(t *testing.T) {
	g := NewGate(fixed(Assessment{Overall: 1, Gaps: []string{"everything"}}))
	report, err := g.Evaluate(context.Background(), someSources, "topic", 0, 0)
	require.NoError(t, err)
	require.Equal(t, run.DecisionAccept, report.Decision)
	require.Empty(t, report.Gaps)
}

func TestScoresAreClamped(t *testing.T) {
	g := NewGate(fixed(Assessment{Overall: 14, Completeness: -3, SourceDiversity: 11}))
	report, err := g.Evaluate(context.Background(), someSources, "topic", 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 10.0, report.Overall, 0)
	require.InDelta(t, 0.0, report.Completeness, 0)
	require.InDelta(t, 10.0, report.SourceDiversity, 0)
}

func TestEmptySourcesSkipAssessor(t *testing.T) {
	called := false
	g := NewGate(AssessFunc(func(context.Context, string, []run.Source) (Assessment, error) {
		called = true
		return Assessment{}, nil
	}))
	report, err := g.Evaluate(context.Background(), nil, "topic", 0, 1)
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, run.DecisionContinue, report.Decision)
	require.Equal(t, []string{noSourcesGap}, report.Gaps)
}

func TestMissingAssessorIsConfigurationError(t *testing.T) {
	_, err := NewGate(nil).Evaluate(context.Background(), someSources, "topic", 0, 1)
	require.ErrorIs(t, err, run.ErrConfiguration)
}

func TestAssessorErrorPropagates(t *testing.T) {
	boom := errors.New("model down")
	g := NewGate(AssessFunc(func(context.Context, string, []run.Source) (Assessment, error) {
		return Assessment{}, boom
	}))
	_, err := g.Evaluate(context.Background(), someSources, "topic", 0, 1)
	require.ErrorIs(t, err, boom)
}

func TestCustomThreshold(t *testing.T) {
	g := NewGate(fixed(Assessment{Overall: 6}), WithThreshold(5))
	report, err := g.Evaluate(context.Background(), someSources, "topic", 0, 3)
	require.NoError(t, err)
	require.Equal(t, run.DecisionAccept, report.Decision)
	require.InDelta(t, 5.0, g.Threshold(), 0)
}

func TestDecisionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("never CONTINUE at the ceiling", prop.ForAll(
		func(overall float64, k int) bool {
			return Decide(overall, DefaultThreshold, k, k) == run.DecisionAccept
		},
		gen.Float64Range(0, 10),
		gen.IntRange(0, 10),
	))

	properties.Property("CONTINUE iff below threshold and below ceiling", prop.ForAll(
		func(overall float64, iteration, k int) bool {
			want := overall < DefaultThreshold && iteration < k
			return (Decide(overall, DefaultThreshold, iteration, k) == run.DecisionContinue) == want
		},
		gen.Float64Range(0, 10),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.Property("ACCEPT reports always have empty gaps", prop.ForAll(
		func(overall float64, iteration, k int) bool {
			g := NewGate(fixed(Assessment{Overall: overall, Gaps: []string{"a", "b"}}))
			report, err := g.Evaluate(context.Background(), someSources, "t", iteration, k)
			if err != nil {
				return false
			}
			return report.Decision == run.DecisionContinue || len(report.Gaps) == 0
		},
		gen.Float64Range(-5, 15),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
