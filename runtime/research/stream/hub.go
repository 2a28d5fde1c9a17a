package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// ErrUnknownRun is returned when subscribing to a run the hub never saw.
var ErrUnknownRun = errors.New("unknown run")

type (
	// Hub is an in-process Sink that keeps each run's event history and
	// fans it out to any number of subscribers. A subscriber that joins late
	// replays the history first; every subscription ends after the terminal
	// event.
	Hub struct {
		mu     sync.Mutex
		topics map[string]*topic
	}

	topic struct {
		events []Event
		done   bool
		// notify is closed and replaced whenever events grows or done flips.
		notify chan struct{}
	}
)

var _ Sink = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Open registers runID so subscriptions can start before the first event.
func (h *Hub) Open(runID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[runID]; ok {
		return fmt.Errorf("run %q already open", runID)
	}
	h.topics[runID] = &topic{notify: make(chan struct{})}
	return nil
}

// Send appends e to its run's history and wakes subscribers. Events sent
// after the terminal event are rejected.
func (h *Hub) Send(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[e.RunID]
	if !ok {
		t = &topic{notify: make(chan struct{})}
		h.topics[e.RunID] = t
	}
	if t.done {
		return fmt.Errorf("run %q already finished", e.RunID)
	}
	t.events = append(t.events, e)
	if e.Terminal() {
		t.done = true
	}
	t.wake()
	return nil
}

// Close ends every open subscription. Runs without a terminal event are
// marked finished.
func (h *Hub) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		if !t.done {
			t.done = true
			t.wake()
		}
	}
	return nil
}

// Forget drops the history of runID.
func (h *Hub) Forget(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[runID]; ok {
		if !t.done {
			t.done = true
			t.wake()
		}
		delete(h.topics, runID)
	}
}

// Subscribe returns the finite event sequence of runID, replaying history
// then following live events until the terminal one. Iteration also stops
// when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, runID string) (iter.Seq[Event], error) {
	h.mu.Lock()
	t, ok := h.topics[runID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRun, runID)
	}
	return func(yield func(Event) bool) {
		for next := 0; ; {
			h.mu.Lock()
			if next < len(t.events) {
				e := t.events[next]
				h.mu.Unlock()
				next++
				if !yield(e) || e.Terminal() {
					return
				}
				continue
			}
			if t.done {
				h.mu.Unlock()
				return
			}
			wait := t.notify
			h.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}, nil
}

func (t *topic) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}
