// Package nats publishes research progress events on NATS subjects. Each
// event is sent as JSON to research.run.<run_id>; terminal events are also
// copied to research.done so a single subscriber can follow completions.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "research"

type (
	// Publisher is the subset of *nats.Conn used by Sink.
	Publisher interface {
		Publish(subject string, data []byte) error
		FlushWithContext(ctx context.Context) error
	}

	// Sink implements stream.Sink over a NATS connection.
	Sink struct {
		pub    Publisher
		prefix string
	}
)

// Connect dials url and returns a Sink owning the connection. Close drains
// it.
func Connect(url string, opts ...nats.Option) (*Sink, *nats.Conn, error) {
	conn, err := nats.Connect(url, append([]nats.Option{nats.Name("research-engine")}, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	s, err := NewSink(conn, DefaultPrefix)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return s, conn, nil
}

// NewSink returns a Sink publishing through pub under prefix.
func NewSink(pub Publisher, prefix string) (*Sink, error) {
	if pub == nil {
		return nil, errors.New("nats publisher is required")
	}
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{pub: pub, prefix: prefix}, nil
}

// Subject returns the subject carrying events of runID.
func (s *Sink) Subject(runID string) string {
	return s.prefix + ".run." + runID
}

// Send publishes e. Run IDs containing subject tokens are rejected.
func (s *Sink) Send(_ context.Context, e stream.Event) error {
	if e.RunID == "" {
		return errors.New("stream event missing run id")
	}
	if strings.ContainsAny(e.RunID, ".*> \t") {
		return fmt.Errorf("run id %q is not a valid subject token", e.RunID)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(e.RunID), body); err != nil {
		return fmt.Errorf("publish %s: %w", s.Subject(e.RunID), err)
	}
	if e.Terminal() {
		if err := s.pub.Publish(s.prefix+".done", body); err != nil {
			return fmt.Errorf("publish %s.done: %w", s.prefix, err)
		}
	}
	return nil
}

// Close flushes buffered messages.
func (s *Sink) Close(ctx context.Context) error {
	return s.pub.FlushWithContext(ctx)
}
