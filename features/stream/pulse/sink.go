// Package pulse publishes research progress events to Pulse streams so that
// observers outside the process running the engine can follow a run. Each
// run gets its own stream named research/<run_id>.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/pulse/clients/pulse"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
)

type (
	// Sink implements stream.Sink on top of a Pulse client.
	Sink struct {
		client pulse.Client
		now    func() time.Time

		mu      sync.Mutex
		streams map[string]pulse.Stream
	}

	// envelope is the stream entry payload.
	envelope struct {
		Type      string          `json:"type"`
		RunID     string          `json:"run_id"`
		Seq       int             `json:"seq"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
)

// StreamName returns the Pulse stream carrying events of the given run.
func StreamName(runID string) string {
	return "research/" + runID
}

// NewSink returns a Sink publishing through c.
func NewSink(c pulse.Client) (*Sink, error) {
	if c == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Sink{client: c, now: time.Now, streams: make(map[string]pulse.Stream)}, nil
}

// Send appends e to its run stream. The stream handle is released once the
// terminal event has been written.
func (s *Sink) Send(ctx context.Context, e stream.Event) error {
	if e.RunID == "" {
		return errors.New("stream event missing run id")
	}
	h, err := s.stream(e.RunID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	env, err := json.Marshal(envelope{
		Type:      string(e.Phase),
		RunID:     e.RunID,
		Seq:       e.Seq,
		Timestamp: s.now().UTC(),
		Payload:   body,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := h.Add(ctx, string(e.Phase), env); err != nil {
		return err
	}
	if e.Terminal() {
		s.mu.Lock()
		delete(s.streams, e.RunID)
		s.mu.Unlock()
	}
	return nil
}

// Close drops cached stream handles. The Redis connection belongs to the
// caller.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	clear(s.streams)
	s.mu.Unlock()
	return nil
}

func (s *Sink) stream(runID string) (pulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.streams[runID]; ok {
		return h, nil
	}
	h, err := s.client.Stream(StreamName(runID))
	if err != nil {
		return nil, err
	}
	s.streams[runID] = h
	return h, nil
}
