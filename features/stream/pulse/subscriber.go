package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/pulse/clients/pulse"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
)

// Subscriber replays and follows run streams written by Sink.
type Subscriber struct {
	client pulse.Client
	// Name prefixes consumer group names. Each call to Subscribe uses its own
	// group so every observer sees the full history.
	Name string
}

// NewSubscriber returns a Subscriber reading through c.
func NewSubscriber(c pulse.Client) (*Subscriber, error) {
	if c == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Subscriber{client: c, Name: "research-watch"}, nil
}

// Subscribe returns the events of runID in order, starting from the oldest
// retained entry. The sequence ends after the terminal event, when ctx is
// done, or on the first decode or acknowledgement error, which is yielded
// with a zero Event.
func (s *Subscriber) Subscribe(ctx context.Context, runID string) (iter.Seq2[stream.Event, error], error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	h, err := s.client.Stream(StreamName(runID))
	if err != nil {
		return nil, err
	}
	r, err := h.Reader(ctx, fmt.Sprintf("%s-%s", s.Name, uuid.NewString()))
	if err != nil {
		return nil, err
	}
	return func(yield func(stream.Event, error) bool) {
		defer r.Close(context.WithoutCancel(ctx))
		ch := r.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := decodeEnvelope(msg.Payload)
				if err == nil {
					err = r.Ack(ctx, msg)
				}
				if err != nil {
					yield(stream.Event{}, err)
					return
				}
				if !yield(e, nil) || e.Terminal() {
					return
				}
			}
		}
	}, nil
}

func decodeEnvelope(payload []byte) (stream.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return stream.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	var e stream.Event
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		return stream.Event{}, fmt.Errorf("decode event %s/%d: %w", env.RunID, env.Seq, err)
	}
	return e, nil
}
