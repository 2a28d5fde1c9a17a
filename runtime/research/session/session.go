// Package session defines persistence for research run snapshots. The
// engine is the only writer; observers read point-in-time snapshots and
// never share the live run.
package session

import (
	"context"
	"errors"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

// DefaultListLimit bounds List when callers pass a non-positive limit.
const DefaultListLimit = 10

var (
	// ErrNotFound is returned when no snapshot exists for a run id.
	ErrNotFound = errors.New("run snapshot not found")
	// ErrRunIDRequired is returned when an operation is called without a
	// run id.
	ErrRunIDRequired = errors.New("run id is required")
)

type (
	// Store persists run snapshots keyed by run id. Save is last-write-wins.
	// List returns the most recently updated runs first.
	Store interface {
		Save(ctx context.Context, snap run.Snapshot) error
		Load(ctx context.Context, runID string) (run.Snapshot, error)
		List(ctx context.Context, limit int) ([]Summary, error)
	}

	// Summary is the listing view of a stored run.
	Summary struct {
		RunID     string     `json:"run_id"`
		Topic     string     `json:"topic"`
		Phase     run.Phase  `json:"phase"`
		Iteration int        `json:"iteration"`
		Sources   int        `json:"sources"`
		Reason    run.Reason `json:"reason,omitempty"`
		CreatedAt string     `json:"created_at"`
		UpdatedAt string     `json:"updated_at"`
	}
)

// Summarize builds the listing view of snap.
func Summarize(snap run.Snapshot) Summary {
	return Summary{
		RunID:     snap.RunID,
		Topic:     snap.Topic,
		Phase:     snap.Phase,
		Iteration: snap.Iteration,
		Sources:   len(snap.Sources),
		Reason:    snap.Reason,
		CreatedAt: snap.CreatedAt.Format(timeLayout),
		UpdatedAt: snap.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
