// Package run models a single research run: the bounded plan, search,
// evaluate, write state machine, the sources it gathers and the snapshots
// handed to stores and observers.
//
// A Run is owned by exactly one engine for its lifetime. Every mutator
// applies one transition atomically: on error the run is left untouched.
package run

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type (
	// Run is the mutable state of one research execution.
	Run struct {
		id            string
		topic         string
		queries       []string
		sources       []Source
		quality       *QualityReport
		iteration     int
		maxIterations int
		phase         Phase
		report        string
		reason        Reason
		failure       string
		createdAt     time.Time
		updatedAt     time.Time
	}

	// Source is one deduplicated, scored search result. Scores are always
	// computed by the search executor, never supplied by providers.
	Source struct {
		URL            string    `json:"url" bson:"url"`
		Title          string    `json:"title" bson:"title"`
		Content        string    `json:"content" bson:"content"`
		Query          string    `json:"query" bson:"query"`
		Provider       string    `json:"provider" bson:"provider"`
		QualityScore   float64   `json:"quality_score" bson:"quality_score"`
		RelevanceScore float64   `json:"relevance_score" bson:"relevance_score"`
		RetrievedAt    time.Time `json:"retrieved_at" bson:"retrieved_at"`
	}

	// QualityReport is the outcome of one evaluation pass. All scores are in
	// [0, 10].
	QualityReport struct {
		Overall         float64  `json:"overall" bson:"overall"`
		Completeness    float64  `json:"completeness" bson:"completeness"`
		SourceDiversity float64  `json:"source_diversity" bson:"source_diversity"`
		FactConsistency float64  `json:"fact_consistency" bson:"fact_consistency"`
		Gaps            []string `json:"gaps" bson:"gaps"`
		Decision        Decision `json:"decision" bson:"decision"`
	}

	// Decision is the quality gate's routing verdict.
	Decision string
)

const (
	// DecisionContinue loops the run back to planning with the report gaps.
	DecisionContinue Decision = "continue"
	// DecisionAccept sends the run on to writing.
	DecisionAccept Decision = "accept"
)

// New creates a run in PhasePlanning at iteration zero.
func New(id, topic string, maxIterations int) (*Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if maxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be >= 0, got %d", maxIterations)
	}
	now := time.Now().UTC()
	return &Run{
		id:            id,
		topic:         topic,
		maxIterations: maxIterations,
		phase:         PhasePlanning,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Topic returns the immutable research topic.
func (r *Run) Topic() string { return r.topic }

// Phase returns the current phase.
func (r *Run) Phase() Phase { return r.phase }

// Iteration returns the number of CONTINUE loops taken so far.
func (r *Run) Iteration() int { return r.iteration }

// MaxIterations returns the iteration ceiling fixed at creation.
func (r *Run) MaxIterations() int { return r.maxIterations }

// Queries returns a copy of the current query set.
func (r *Run) Queries() []string { return slices.Clone(r.queries) }

// Sources returns a copy of the sources gathered by the last search pass.
func (r *Run) Sources() []Source { return slices.Clone(r.sources) }

// Quality returns a copy of the latest quality report, if any.
func (r *Run) Quality() *QualityReport { return r.quality.clone() }

// Gaps returns the gaps of the latest report. They are only non-empty
// after a CONTINUE decision.
func (r *Run) Gaps() []string {
	if r.quality == nil {
		return nil
	}
	return slices.Clone(r.quality.Gaps)
}

// Planned records the query set and moves PLANNING -> SEARCHING. The query
// set replaces any previous one.
func (r *Run) Planned(queries []string) error {
	if err := r.check(PhaseSearching); err != nil {
		return err
	}
	if len(queries) == 0 {
		return errors.New("planned query set is empty")
	}
	r.queries = slices.Clone(queries)
	r.advance(PhaseSearching)
	return nil
}

// Searched records the ranked sources and moves SEARCHING -> EVALUATING.
// Sources are recomputed every pass, never appended.
func (r *Run) Searched(sources []Source) error {
	if err := r.check(PhaseEvaluating); err != nil {
		return err
	}
	r.sources = slices.Clone(sources)
	r.advance(PhaseEvaluating)
	return nil
}

// Evaluated records the quality report and routes the run. CONTINUE moves
// back to PLANNING and increments the iteration; ACCEPT moves to WRITING.
// The iteration ceiling always wins: a CONTINUE vote at the ceiling is
// recorded as ACCEPT with its gaps cleared.
func (r *Run) Evaluated(report QualityReport) (Phase, error) {
	if r.phase != PhaseEvaluating {
		return r.phase, r.invalid(PhaseWriting)
	}
	q := report.clone()
	if q.Decision == DecisionContinue && r.iteration >= r.maxIterations {
		q.Decision = DecisionAccept
	}
	if q.Decision != DecisionContinue {
		q.Decision = DecisionAccept
		q.Gaps = []string{}
	}
	r.quality = q
	if q.Decision == DecisionContinue {
		r.iteration++
		r.advance(PhasePlanning)
		return PhasePlanning, nil
	}
	r.advance(PhaseWriting)
	return PhaseWriting, nil
}

// Completed records the report and moves WRITING -> DONE.
func (r *Run) Completed(report string) error {
	if err := r.check(PhaseDone); err != nil {
		return err
	}
	r.report = report
	r.advance(PhaseDone)
	return nil
}

// Fail moves the run to FAILED and records why. Data accumulated by
// earlier phases is kept so callers can inspect partial progress.
func (r *Run) Fail(cause error) error {
	if err := r.check(PhaseFailed); err != nil {
		return err
	}
	r.reason = ReasonOf(cause)
	if r.reason == "" {
		r.reason = ReasonInternal
	}
	if cause != nil {
		r.failure = cause.Error()
	}
	r.advance(PhaseFailed)
	return nil
}

// Reason returns why the run failed, or "" when it did not.
func (r *Run) Reason() Reason { return r.reason }

// Report returns the final report; it is empty unless the run is DONE.
func (r *Run) Report() string { return r.report }

func (r *Run) check(to Phase) error {
	if !CanTransition(r.phase, to) {
		return r.invalid(to)
	}
	return nil
}

func (r *Run) invalid(to Phase) error {
	if r.phase.Terminal() {
		return fmt.Errorf("%w: run %q is %s", ErrInvalidState, r.id, r.phase)
	}
	return fmt.Errorf("%w: run %q cannot move from %s to %s", ErrInvalidState, r.id, r.phase, to)
}

func (r *Run) advance(to Phase) {
	r.phase = to
	r.updatedAt = time.Now().UTC()
}

// Score is the combined ranking score of the source.
func (s Source) Score() float64 {
	return s.QualityScore + s.RelevanceScore
}

func (q *QualityReport) clone() *QualityReport {
	if q == nil {
		return nil
	}
	out := *q
	out.Gaps = slices.Clone(q.Gaps)
	return &out
}
