package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/quality"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

type (
	// Options tunes a Generator. Zero values select defaults.
	Options struct {
		// MaxQueries caps the planned query set. Default 5.
		MaxQueries int
		// WriterSources is how many top-ranked sources the writer sees.
		// Default 15.
		WriterSources int
		// SourceChars truncates each source's content in prompts. Default 1000.
		SourceChars int
		// MaxTokens is passed to every completion. Default 4096.
		MaxTokens int
		// Temperature is passed to every completion. Default 0.3.
		Temperature float64
		Logger      telemetry.Logger
	}

	// Generator plans queries, assesses sources and writes reports with a
	// single Completer.
	Generator struct {
		completer Completer
		opts      Options
		plan      *jsonschema.Schema
		assess    *jsonschema.Schema
	}

	planAnswer struct {
		Queries   []string `json:"queries"`
		Aspects   []string `json:"aspects"`
		Reasoning string   `json:"reasoning"`
	}

	assessAnswer struct {
		Overall         float64  `json:"overall_score"`
		Completeness    float64  `json:"completeness"`
		SourceDiversity float64  `json:"source_diversity"`
		FactConsistency float64  `json:"fact_consistency"`
		Gaps            []string `json:"gaps"`
		Suggestions     []string `json:"suggestions"`
	}
)

var _ quality.Assessor = (*Generator)(nil)

// New returns a Generator backed by c.
func New(c Completer, opts Options) (*Generator, error) {
	if c == nil {
		return nil, errors.New("completer is required")
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = 5
	}
	if opts.WriterSources <= 0 {
		opts.WriterSources = 15
	}
	if opts.SourceChars <= 0 {
		opts.SourceChars = 1000
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	plan, err := compileSchema("plan", planSchema)
	if err != nil {
		return nil, err
	}
	assess, err := compileSchema("assess", assessSchema)
	if err != nil {
		return nil, err
	}
	return &Generator{completer: c, opts: opts, plan: plan, assess: assess}, nil
}

// Plan asks the model for search queries. feedback carries the gaps of the
// previous evaluation.
func (g *Generator) Plan(ctx context.Context, topic string, feedback []string) ([]string, error) {
	answer, err := g.completer.Complete(ctx, g.prompt(planSystem, planPrompt(topic, feedback, g.opts.MaxQueries), true))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	var out planAnswer
	if err := decode(answer, g.plan, &out); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	queries := make([]string, 0, len(out.Queries))
	for _, q := range out.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
		if len(queries) == g.opts.MaxQueries {
			break
		}
	}
	g.opts.Logger.Debug(ctx, "plan generated", "queries", len(queries), "feedback", len(feedback))
	return queries, nil
}

// Assess scores sources for topic. Suggestions returned by the model are
// appended to the gaps.
func (g *Generator) Assess(ctx context.Context, topic string, sources []run.Source) (quality.Assessment, error) {
	answer, err := g.completer.Complete(ctx, g.prompt(assessSystem, assessPrompt(topic, sources, g.opts.SourceChars), true))
	if err != nil {
		return quality.Assessment{}, fmt.Errorf("assess: %w", err)
	}
	var out assessAnswer
	if err := decode(answer, g.assess, &out); err != nil {
		return quality.Assessment{}, fmt.Errorf("assess: %w", err)
	}
	return quality.Assessment{
		Overall:         out.Overall,
		Completeness:    out.Completeness,
		SourceDiversity: out.SourceDiversity,
		FactConsistency: out.FactConsistency,
		Gaps:            append(out.Gaps, out.Suggestions...),
	}, nil
}

// Write compiles the report from the top-ranked sources.
func (g *Generator) Write(ctx context.Context, topic string, sources []run.Source, q run.QualityReport) (string, error) {
	if len(sources) > g.opts.WriterSources {
		sources = sources[:g.opts.WriterSources]
	}
	answer, err := g.completer.Complete(ctx, g.prompt(writeSystem, writePrompt(topic, sources, q, g.opts.SourceChars), false))
	if err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (g *Generator) prompt(system, user string, asJSON bool) Prompt {
	return Prompt{
		System:      system,
		User:        user,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		JSON:        asJSON,
	}
}
