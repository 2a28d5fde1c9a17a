// Package mongo provides a session.Store persisted in MongoDB.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/session/mongo/clients/mongo"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ session.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Save stores snap, replacing the previous snapshot of the same run.
func (s *Store) Save(ctx context.Context, snap run.Snapshot) error {
	return s.client.SaveSnapshot(ctx, snap)
}

// Load retrieves the latest snapshot of runID.
func (s *Store) Load(ctx context.Context, runID string) (run.Snapshot, error) {
	return s.client.LoadSnapshot(ctx, runID)
}

// List returns summaries of the most recently updated runs.
func (s *Store) List(ctx context.Context, limit int) ([]session.Summary, error) {
	snaps, err := s.client.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]session.Summary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, session.Summarize(snap))
	}
	return out, nil
}
