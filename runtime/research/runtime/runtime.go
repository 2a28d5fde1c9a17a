// Package runtime exposes research runs to callers: StartRun launches a run
// in the background, StreamEvents follows its progress and GetSnapshot reads
// the latest persisted state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/engine"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
	sessioninmem "github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session/inmem"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

// ErrClosed is returned by StartRun after Close.
var ErrClosed = errors.New("runtime closed")

const defaultRetainFinished = 32

type (
	// Options configures a Runtime.
	Options struct {
		// Engine wires the planner, searcher, gate and writer. Its Store and
		// Sink fields are ignored; use the fields below.
		Engine engine.Options
		// Store persists snapshots. Defaults to an in-memory store.
		Store session.Store
		// Sink receives every event in addition to the in-process hub, for
		// example a Pulse or NATS publisher.
		Sink stream.Sink
		// NewID generates run identifiers. Defaults to random UUIDs.
		NewID func() string
		// RetainFinished is how many finished runs keep their full event
		// history in memory for replay. Older runs stream only their stored
		// terminal snapshot. Defaults to 32.
		RetainFinished int
	}

	// Runtime runs research in background goroutines.
	Runtime struct {
		engine *engine.Engine
		store  session.Store
		hub    *stream.Hub
		sink   stream.Sink
		newID  func() string
		log    telemetry.Logger
		retain int

		mu       sync.Mutex
		active   map[string]context.CancelFunc
		finished []string
		closed   bool
		wg       sync.WaitGroup
	}
)

// New returns a Runtime.
func New(opts Options) *Runtime {
	if opts.Store == nil {
		opts.Store = sessioninmem.New()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.RetainFinished <= 0 {
		opts.RetainFinished = defaultRetainFinished
	}
	hub := stream.NewHub()
	eopts := opts.Engine
	eopts.Store = opts.Store
	eopts.Sink = stream.Tee(hub, opts.Sink)
	return &Runtime{
		engine: engine.New(eopts),
		store:  opts.Store,
		hub:    hub,
		sink:   opts.Sink,
		newID:  opts.NewID,
		log:    eopts.Telemetry.WithDefaults().Logger,
		retain: opts.RetainFinished,
		active: make(map[string]context.CancelFunc),
	}
}

// StartRun creates a run for topic and executes it in the background. The
// run is not bound to ctx; use Cancel to stop it. The initial snapshot is
// persisted before StartRun returns.
func (rt *Runtime) StartRun(ctx context.Context, topic string, maxIterations int) (string, error) {
	r, err := run.New(rt.newID(), topic, maxIterations)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	seq, err := rt.engine.Run(runCtx, r)
	if err != nil {
		cancel()
		return "", err
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	if err := rt.hub.Open(r.ID()); err != nil {
		rt.mu.Unlock()
		cancel()
		return "", err
	}
	rt.active[r.ID()] = cancel
	rt.wg.Add(1)
	rt.mu.Unlock()

	if err := rt.store.Save(ctx, r.Snapshot()); err != nil {
		rt.log.Warn(ctx, "save initial snapshot failed", "run_id", r.ID(), "err", err)
	}

	go func() {
		defer rt.wg.Done()
		defer rt.finish(r.ID())
		for range seq {
		}
	}()
	return r.ID(), nil
}

// StreamEvents returns the event sequence of runID. Live runs are followed
// until their terminal event; finished runs no longer held in memory yield
// a single terminal event rebuilt from the stored snapshot.
func (rt *Runtime) StreamEvents(ctx context.Context, runID string) (iter.Seq[stream.Event], error) {
	seq, err := rt.hub.Subscribe(ctx, runID)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, stream.ErrUnknownRun) {
		return nil, err
	}
	snap, err := rt.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !snap.Terminal() {
		return nil, fmt.Errorf("%w: run %q is not owned by this runtime", run.ErrInvalidState, runID)
	}
	return func(yield func(stream.Event) bool) {
		yield(terminalEvent(snap))
	}, nil
}

// GetSnapshot returns the latest stored snapshot of runID.
func (rt *Runtime) GetSnapshot(ctx context.Context, runID string) (run.Snapshot, error) {
	snap, err := rt.store.Load(ctx, runID)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrRunIDRequired) {
		return run.Snapshot{}, fmt.Errorf("%w: %w", run.ErrInvalidState, err)
	}
	return snap, err
}

// ListRuns returns up to limit stored runs, most recent first.
func (rt *Runtime) ListRuns(ctx context.Context, limit int) ([]session.Summary, error) {
	return rt.store.List(ctx, limit)
}

// Cancel requests cooperative cancellation of a running run. Cancelling a
// finished or unknown run fails with run.ErrInvalidState.
func (rt *Runtime) Cancel(runID string) error {
	rt.mu.Lock()
	cancel, ok := rt.active[runID]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: run %q is not active", run.ErrInvalidState, runID)
	}
	cancel()
	return nil
}

// Wait blocks until every started run has finished.
func (rt *Runtime) Wait() {
	rt.wg.Wait()
}

// Close cancels active runs, waits for them to finish or ctx to end, then
// closes the hub and the extra sink.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	rt.closed = true
	for _, cancel := range rt.active {
		cancel()
	}
	rt.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	errs := []error{rt.hub.Close(ctx)}
	if rt.sink != nil {
		errs = append(errs, rt.sink.Close(ctx))
	}
	return errors.Join(errs...)
}

func (rt *Runtime) finish(runID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cancel, ok := rt.active[runID]; ok {
		cancel()
		delete(rt.active, runID)
	}
	rt.finished = append(rt.finished, runID)
	for len(rt.finished) > rt.retain {
		rt.hub.Forget(rt.finished[0])
		rt.finished = rt.finished[1:]
	}
}

func terminalEvent(snap run.Snapshot) stream.Event {
	final := snap.Clone()
	return stream.Event{
		RunID:     snap.RunID,
		Phase:     snap.Phase,
		Iteration: snap.Iteration,
		Timestamp: snap.UpdatedAt,
		Quality:   final.Quality,
		Report:    snap.Report,
		Reason:    snap.Reason,
		Error:     snap.Error,
		Snapshot:  &final,
	}
}
