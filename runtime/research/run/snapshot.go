package run

import (
	"slices"
	"time"
)

// Snapshot is a detached, serializable copy of a run. Stores and observers
// only ever see snapshots, never the live Run.
type Snapshot struct {
	RunID         string         `json:"run_id" bson:"run_id"`
	Topic         string         `json:"topic" bson:"topic"`
	Phase         Phase          `json:"phase" bson:"phase"`
	Iteration     int            `json:"iteration" bson:"iteration"`
	MaxIterations int            `json:"max_iterations" bson:"max_iterations"`
	Queries       []string       `json:"queries,omitempty" bson:"queries,omitempty"`
	Sources       []Source       `json:"sources,omitempty" bson:"sources,omitempty"`
	Quality       *QualityReport `json:"quality,omitempty" bson:"quality,omitempty"`
	Report        string         `json:"report,omitempty" bson:"report,omitempty"`
	Reason        Reason         `json:"reason,omitempty" bson:"reason,omitempty"`
	Error         string         `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" bson:"updated_at"`
}

// Snapshot returns a deep copy of the run's current state.
func (r *Run) Snapshot() Snapshot {
	return Snapshot{
		RunID:         r.id,
		Topic:         r.topic,
		Phase:         r.phase,
		Iteration:     r.iteration,
		MaxIterations: r.maxIterations,
		Queries:       slices.Clone(r.queries),
		Sources:       slices.Clone(r.sources),
		Quality:       r.quality.clone(),
		Report:        r.report,
		Reason:        r.reason,
		Error:         r.failure,
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Queries = slices.Clone(s.Queries)
	out.Sources = slices.Clone(s.Sources)
	out.Quality = s.Quality.clone()
	return out
}

// Terminal reports whether the snapshot was taken in DONE or FAILED.
func (s Snapshot) Terminal() bool {
	return s.Phase.Terminal()
}
