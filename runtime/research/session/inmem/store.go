// Package inmem provides an in-memory session.Store. Snapshots are held in
// serialized form so readers can never observe or mutate engine state.
package inmem

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
)

// Store implements session.Store in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
}

type record struct {
	data      []byte
	updatedAt time.Time
}

var _ session.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]record)}
}

// Save serializes snap and replaces any previous snapshot of the same run.
func (s *Store) Save(ctx context.Context, snap run.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.RunID == "" {
		return session.ErrRunIDRequired
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[snap.RunID] = record{data: data, updatedAt: snap.UpdatedAt}
	return nil
}

// Load decodes the latest snapshot of runID.
func (s *Store) Load(ctx context.Context, runID string) (run.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return run.Snapshot{}, err
	}
	if runID == "" {
		return run.Snapshot{}, session.ErrRunIDRequired
	}
	s.mu.RLock()
	rec, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return run.Snapshot{}, session.ErrNotFound
	}
	var snap run.Snapshot
	if err := json.Unmarshal(rec.data, &snap); err != nil {
		return run.Snapshot{}, fmt.Errorf("decode snapshot %q: %w", runID, err)
	}
	return snap, nil
}

// List returns up to limit summaries, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]session.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = session.DefaultListLimit
	}
	s.mu.RLock()
	recs := make([]record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b record) int {
		return cmp.Compare(b.updatedAt.UnixNano(), a.updatedAt.UnixNano())
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]session.Summary, 0, len(recs))
	for _, r := range recs {
		var snap run.Snapshot
		if err := json.Unmarshal(r.data, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, session.Summarize(snap))
	}
	return out, nil
}
