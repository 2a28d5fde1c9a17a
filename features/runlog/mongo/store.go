// Package mongo persists research progress events in MongoDB so the full
// event history of a run can be replayed after the process that ran it has
// exited.
package mongo

import (
	"context"
	"errors"
	"iter"

	clientsmongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/runlog/mongo/clients/mongo"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
)

// pageSize is the number of events fetched per List call during Replay.
const pageSize = 100

// Log implements stream.Sink by appending every event to Mongo.
type Log struct {
	client clientsmongo.Client
}

// NewLog builds a Mongo-backed event log using the provided client.
func NewLog(client clientsmongo.Client) (*Log, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Log{client: client}, nil
}

// Send implements stream.Sink.
func (l *Log) Send(ctx context.Context, e stream.Event) error {
	return l.client.Append(ctx, e)
}

// Close implements stream.Sink. The Mongo connection belongs to the caller.
func (l *Log) Close(context.Context) error { return nil }

// Replay yields the stored events of runID in sequence order. It stops on
// the first error, which is yielded with a zero Event.
func (l *Log) Replay(ctx context.Context, runID string) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		after := -1
		for {
			page, err := l.client.List(ctx, runID, after, pageSize)
			if err != nil {
				yield(stream.Event{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}
