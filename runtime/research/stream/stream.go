// Package stream carries research progress events from the engine to
// observers. The engine emits exactly one Event per phase transition; the
// sequence for a run ends with a single event whose phase is DONE or FAILED.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

type (
	// Event reports one phase transition of a run. Optional fields are set
	// by the transition that produced them: Queries on entering SEARCHING,
	// source counts on entering EVALUATING, Quality after evaluation,
	// Report on DONE, Reason and Error on FAILED. The terminal event also
	// carries the final snapshot. Iteration is the run's iteration after the
	// transition, so a CONTINUE decision is reported on the PLANNING event of
	// the next iteration.
	Event struct {
		RunID        string             `json:"run_id"`
		Seq          int                `json:"seq"`
		Phase        run.Phase          `json:"phase"`
		Iteration    int                `json:"iteration"`
		Timestamp    time.Time          `json:"timestamp"`
		Queries      []string           `json:"queries,omitempty"`
		Sources      *int               `json:"sources_count,omitempty"`
		DeltaSources *int               `json:"delta_sources_count,omitempty"`
		Quality      *run.QualityReport `json:"quality_report,omitempty"`
		Report       string             `json:"report,omitempty"`
		Reason       run.Reason         `json:"reason,omitempty"`
		Error        string             `json:"error,omitempty"`
		Snapshot     *run.Snapshot      `json:"snapshot,omitempty"`
	}

	// Sink receives events as they are produced. Implementations must be
	// safe for concurrent use across runs.
	Sink interface {
		Send(ctx context.Context, e Event) error
		Close(ctx context.Context) error
	}

	tee []Sink
)

// Terminal reports whether e ends its run's sequence.
func (e Event) Terminal() bool {
	return e.Phase.Terminal()
}

// Tee returns a Sink that forwards every event to each sink in order.
// Errors are joined; a failing sink does not stop delivery to the others.
// Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range t {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Close(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
