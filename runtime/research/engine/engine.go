// Package engine drives a research run through its state machine:
// PLANNING -> SEARCHING -> EVALUATING -> (PLANNING | WRITING) -> DONE, with
// FAILED reachable from every non-terminal phase.
//
// Phases run strictly sequentially. After every transition the engine saves
// a snapshot to the session store, forwards an event to the configured sink
// and yields the same event to the caller. Cancellation and per-phase
// timeouts are checked at phase boundaries and inside the search fan-out;
// either one fails the run with the matching reason.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

// MaxQueries bounds the query set accepted from the planner.
const MaxQueries = 8

type (
	// Planner produces the query set for a pass. feedback holds the gaps
	// reported by the previous evaluation and is empty on the first pass.
	Planner interface {
		Plan(ctx context.Context, topic string, feedback []string) ([]string, error)
	}

	// Searcher runs a query set against the registered providers.
	Searcher interface {
		Providers() []string
		Execute(ctx context.Context, topic string, queries []string) ([]run.Source, error)
	}

	// Evaluator scores sources and decides the route.
	Evaluator interface {
		Evaluate(ctx context.Context, sources []run.Source, topic string, iteration, maxIterations int) (run.QualityReport, error)
	}

	// Writer compiles the final report.
	Writer interface {
		Write(ctx context.Context, topic string, sources []run.Source, quality run.QualityReport) (string, error)
	}

	// Options wires the engine's collaborators. Store and Sink are optional.
	Options struct {
		Planner   Planner
		Searcher  Searcher
		Evaluator Evaluator
		Writer    Writer
		Store     session.Store
		Sink      stream.Sink
		// PhaseTimeout bounds each phase; zero disables the budget.
		PhaseTimeout time.Duration
		Telemetry    telemetry.Set
	}

	// Engine executes research runs. It holds no per-run state and may run
	// any number of runs concurrently.
	Engine struct {
		planner      Planner
		searcher     Searcher
		evaluator    Evaluator
		writer       Writer
		store        session.Store
		sink         stream.Sink
		phaseTimeout time.Duration
		tel          telemetry.Set
	}
)

// New returns an engine. Missing collaborators are reported when a run
// starts, as a configuration failure of that run.
func New(opts Options) *Engine {
	return &Engine{
		planner:      opts.Planner,
		searcher:     opts.Searcher,
		evaluator:    opts.Evaluator,
		writer:       opts.Writer,
		store:        opts.Store,
		sink:         opts.Sink,
		phaseTimeout: opts.PhaseTimeout,
		tel:          opts.Telemetry.WithDefaults(),
	}
}

// Run returns the lazy event sequence of r. Nothing happens until the
// sequence is iterated; it yields one event for the initial PLANNING state
// and one per transition, ending with DONE or FAILED. Stopping the iteration
// early cancels the run. r must be freshly created and must not be shared.
func (e *Engine) Run(ctx context.Context, r *run.Run) (iter.Seq[stream.Event], error) {
	if r == nil {
		return nil, errors.New("run is required")
	}
	if r.Phase() != run.PhasePlanning || r.Iteration() != 0 {
		return nil, fmt.Errorf("%w: run %q is %s", run.ErrInvalidState, r.ID(), r.Phase())
	}
	return func(yield func(stream.Event) bool) {
		x := &execution{engine: e, run: r, yield: yield}
		x.execute(ctx)
	}, nil
}

// Validate reports a configuration error when a required collaborator is
// missing.
func (e *Engine) Validate() error {
	switch {
	case e.planner == nil || e.writer == nil:
		return fmt.Errorf("%w: no text generator available", run.ErrConfiguration)
	case e.evaluator == nil:
		return fmt.Errorf("%w: no quality gate available", run.ErrConfiguration)
	case e.searcher == nil || len(e.searcher.Providers()) == 0:
		return fmt.Errorf("%w: %w", run.ErrConfiguration, search.ErrNoProviders)
	}
	return nil
}

// execution is the state of one iteration of a Run sequence.
type execution struct {
	engine  *Engine
	run     *run.Run
	yield   func(stream.Event) bool
	seq     int
	stopped bool
	// lastSources is the source count of the previous search pass.
	lastSources int
}

func (x *execution) execute(ctx context.Context) {
	e := x.engine
	log := e.tel.Logger
	log.Info(ctx, "research run started", "run_id", x.run.ID(), "topic", x.run.Topic(), "max_iterations", x.run.MaxIterations())
	if !x.emit(ctx, stream.Event{}) {
		x.fail(ctx, run.NewError(run.ReasonCancelled, context.Canceled))
		return
	}
	if err := e.Validate(); err != nil {
		x.fail(ctx, err)
		return
	}
	for !x.run.Phase().Terminal() {
		if err := ctx.Err(); err != nil {
			x.fail(ctx, cancellation(ctx, err))
			return
		}
		phase := x.run.Phase()
		ev, err := x.step(ctx, phase)
		if err != nil {
			x.fail(ctx, err)
			return
		}
		if !x.emit(ctx, ev) {
			if !x.run.Phase().Terminal() {
				x.fail(ctx, run.NewError(run.ReasonCancelled, context.Canceled))
			}
			return
		}
	}
}

// step runs the work of phase under the phase budget and applies the
// resulting transition. The run is mutated only after the work succeeded
// and the phase context is still live, so a failed or cancelled phase leaves
// the previous data intact.
func (x *execution) step(ctx context.Context, phase run.Phase) (stream.Event, error) {
	e := x.engine
	pctx, cancel := e.phaseContext(ctx)
	defer cancel()
	pctx, span := e.tel.Tracer.Start(pctx, "research.phase."+string(phase))
	defer span.End()
	start := time.Now()
	defer func() {
		e.tel.Metrics.RecordTimer(telemetry.MetricPhaseDuration, time.Since(start), "phase", string(phase))
	}()

	var (
		ev  stream.Event
		err error
	)
	switch phase {
	case run.PhasePlanning:
		ev, err = x.plan(pctx)
	case run.PhaseSearching:
		ev, err = x.search(pctx)
	case run.PhaseEvaluating:
		ev, err = x.evaluate(pctx)
	case run.PhaseWriting:
		ev, err = x.write(pctx)
	default:
		err = fmt.Errorf("%w: unexpected phase %s", run.ErrInvalidState, phase)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ev, err
}

func (x *execution) plan(ctx context.Context) (stream.Event, error) {
	queries, err := x.engine.planner.Plan(ctx, x.run.Topic(), x.run.Gaps())
	if cerr := ctx.Err(); cerr != nil {
		return stream.Event{}, cancellation(ctx, cerr)
	}
	if err != nil {
		return stream.Event{}, run.NewError(run.ReasonPlanning, err)
	}
	queries = cleanQueries(queries)
	if len(queries) == 0 {
		return stream.Event{}, run.NewError(run.ReasonPlanning, errors.New("planner produced no queries"))
	}
	if err := x.run.Planned(queries); err != nil {
		return stream.Event{}, err
	}
	x.engine.tel.Logger.Info(ctx, "queries planned", "run_id", x.run.ID(), "iteration", x.run.Iteration(), "queries", len(queries))
	return stream.Event{Queries: x.run.Queries()}, nil
}

func (x *execution) search(ctx context.Context) (stream.Event, error) {
	sources, err := x.engine.searcher.Execute(ctx, x.run.Topic(), x.run.Queries())
	if cerr := ctx.Err(); cerr != nil {
		return stream.Event{}, cancellation(ctx, cerr)
	}
	if err != nil {
		if errors.Is(err, search.ErrNoProviders) {
			return stream.Event{}, fmt.Errorf("%w: %w", run.ErrConfiguration, err)
		}
		return stream.Event{}, err
	}
	if err := x.run.Searched(sources); err != nil {
		return stream.Event{}, err
	}
	count := len(sources)
	delta := count - x.lastSources
	x.lastSources = count
	x.engine.tel.Logger.Info(ctx, "sources gathered", "run_id", x.run.ID(), "sources", count)
	return stream.Event{Sources: &count, DeltaSources: &delta}, nil
}

func (x *execution) evaluate(ctx context.Context) (stream.Event, error) {
	r := x.run
	report, err := x.engine.evaluator.Evaluate(ctx, r.Sources(), r.Topic(), r.Iteration(), r.MaxIterations())
	if cerr := ctx.Err(); cerr != nil {
		return stream.Event{}, cancellation(ctx, cerr)
	}
	if err != nil {
		if errors.Is(err, run.ErrConfiguration) {
			return stream.Event{}, err
		}
		return stream.Event{}, run.NewError(run.ReasonEvaluation, err)
	}
	next, err := r.Evaluated(report)
	if err != nil {
		return stream.Event{}, err
	}
	x.engine.tel.Logger.Info(ctx, "quality evaluated", "run_id", r.ID(), "overall", report.Overall, "next", string(next))
	return stream.Event{Quality: r.Quality()}, nil
}

func (x *execution) write(ctx context.Context) (stream.Event, error) {
	r := x.run
	var q run.QualityReport
	if p := r.Quality(); p != nil {
		q = *p
	}
	report, err := x.engine.writer.Write(ctx, r.Topic(), r.Sources(), q)
	if cerr := ctx.Err(); cerr != nil {
		return stream.Event{}, cancellation(ctx, cerr)
	}
	if err != nil {
		return stream.Event{}, run.NewError(run.ReasonWriting, err)
	}
	if strings.TrimSpace(report) == "" {
		return stream.Event{}, run.NewError(run.ReasonWriting, errors.New("writer produced an empty report"))
	}
	if err := r.Completed(report); err != nil {
		return stream.Event{}, err
	}
	return stream.Event{Report: report}, nil
}

// fail moves the run to FAILED and emits the terminal event.
func (x *execution) fail(ctx context.Context, cause error) {
	if err := x.run.Fail(cause); err != nil {
		x.engine.tel.Logger.Error(ctx, "cannot fail run", "run_id", x.run.ID(), "err", err)
		return
	}
	x.engine.tel.Logger.Warn(ctx, "research run failed",
		"run_id", x.run.ID(), "reason", string(x.run.Reason()), "err", cause)
	x.emit(ctx, stream.Event{})
}

// emit completes ev from the run's current state, persists the snapshot,
// forwards the event to the sink and yields it. It reports whether the
// consumer wants more events.
func (x *execution) emit(ctx context.Context, ev stream.Event) bool {
	e := x.engine
	r := x.run
	snap := r.Snapshot()
	ev.RunID = r.ID()
	ev.Seq = x.seq
	ev.Phase = snap.Phase
	ev.Iteration = snap.Iteration
	ev.Timestamp = snap.UpdatedAt
	if snap.Phase == run.PhaseFailed {
		ev.Reason = snap.Reason
		ev.Error = snap.Error
	}
	if snap.Terminal() {
		final := snap.Clone()
		ev.Snapshot = &final
	}
	x.seq++
	e.tel.Metrics.IncCounter(telemetry.MetricTransitions, 1, "phase", string(snap.Phase))

	// Persistence and forwarding outlive cancellation so observers always
	// see the terminal state.
	bg := context.WithoutCancel(ctx)
	if e.store != nil {
		if err := e.store.Save(bg, snap); err != nil {
			e.tel.Logger.Error(ctx, "save snapshot failed", "run_id", r.ID(), "phase", string(snap.Phase), "err", err)
		}
	}
	if e.sink != nil {
		if err := e.sink.Send(bg, ev); err != nil {
			e.tel.Logger.Warn(ctx, "forward event failed", "run_id", r.ID(), "phase", string(snap.Phase), "err", err)
		}
	}
	if x.stopped {
		return false
	}
	if !x.yield(ev) {
		x.stopped = true
		return false
	}
	return true
}

func (e *Engine) phaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.phaseTimeout > 0 {
		return context.WithTimeoutCause(ctx, e.phaseTimeout, run.ErrTimedOut)
	}
	return context.WithCancel(ctx)
}

// cancellation classifies a context error as TimedOut or Cancelled.
func cancellation(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), run.ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return run.NewError(run.ReasonTimedOut, err)
	}
	return run.NewError(run.ReasonCancelled, err)
}

// cleanQueries trims, drops empty and duplicate queries (case-insensitively)
// and caps the set at MaxQueries.
func cleanQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := cache.NormalizeQuery(q)
		if q == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == MaxQueries {
			break
		}
	}
	return out
}
