// Package quality implements the gate that decides whether a research run
// loops back to planning or proceeds to writing. Scoring is delegated to an
// Assessor; the gate owns only the routing policy.
package quality

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

// DefaultThreshold is the overall score at or above which a source set is
// accepted.
const DefaultThreshold = 7.0

// noSourcesGap is reported when a search pass produced nothing to assess.
const noSourcesGap = "no sources were found for the topic"

type (
	// Assessment is the raw scoring produced by an Assessor.
	Assessment struct {
		Overall         float64
		Completeness    float64
		SourceDiversity float64
		FactConsistency float64
		Gaps            []string
	}

	// Assessor scores a source set for a topic.
	Assessor interface {
		Assess(ctx context.Context, topic string, sources []run.Source) (Assessment, error)
	}

	// AssessFunc adapts a function into an Assessor.
	AssessFunc func(ctx context.Context, topic string, sources []run.Source) (Assessment, error)

	// Gate turns assessments into routing decisions.
	Gate struct {
		assessor  Assessor
		threshold float64
		logger    telemetry.Logger
	}

	// Option configures a Gate.
	Option func(*Gate)
)

// Assess calls f.
func (f AssessFunc) Assess(ctx context.Context, topic string, sources []run.Source) (Assessment, error) {
	return f(ctx, topic, sources)
}

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(g *Gate) { g.threshold = t }
}

// WithLogger sets the gate logger.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a gate scoring with a.
func NewGate(a Assessor, opts ...Option) *Gate {
	g := &Gate{assessor: a, threshold: DefaultThreshold, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Threshold returns the acceptance threshold.
func (g *Gate) Threshold() float64 { return g.threshold }

// Evaluate scores sources and decides the route. An empty source set is
// scored zero without consulting the assessor.
func (g *Gate) Evaluate(ctx context.Context, sources []run.Source, topic string, iteration, maxIterations int) (run.QualityReport, error) {
	if g == nil || g.assessor == nil {
		return run.QualityReport{}, fmt.Errorf("%w: no quality assessor", run.ErrConfiguration)
	}
	var a Assessment
	if len(sources) == 0 {
		a = Assessment{Gaps: []string{noSourcesGap}}
	} else {
		var err error
		a, err = g.assessor.Assess(ctx, topic, sources)
		if err != nil {
			return run.QualityReport{}, fmt.Errorf("assess sources: %w", err)
		}
	}
	report := run.QualityReport{
		Overall:         clamp(a.Overall),
		Completeness:    clamp(a.Completeness),
		SourceDiversity: clamp(a.SourceDiversity),
		FactConsistency: clamp(a.FactConsistency),
		Decision:        Decide(clamp(a.Overall), g.threshold, iteration, maxIterations),
		Gaps:            []string{},
	}
	if report.Decision == run.DecisionContinue {
		report.Gaps = cleanGaps(a.Gaps)
	}
	g.logger.Debug(ctx, "quality evaluated",
		"overall", report.Overall, "decision", string(report.Decision), "iteration", iteration, "gaps", len(report.Gaps))
	return report, nil
}

// Decide returns CONTINUE iff overall is below threshold and the iteration
// ceiling has not been reached.
func Decide(overall, threshold float64, iteration, maxIterations int) run.Decision {
	if overall < threshold && iteration < maxIterations {
		return run.DecisionContinue
	}
	return run.DecisionAccept
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}

func cleanGaps(gaps []string) []string {
	out := make([]string, 0, len(gaps))
	for _, g := range gaps {
		g = strings.TrimSpace(g)
		if g == "" || slices.Contains(out, g) {
			continue
		}
		out = append(out, g)
	}
	return out
}
