// Package pulse wraps Pulse streams for research event fan-out. Callers own
// the Redis connection; the client only opens stream handles and readers on
// top of it.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures New.
	Options struct {
		// Redis backs every stream. Required.
		Redis *redis.Client
		// MaxLen caps the entries retained per run stream. Zero keeps
		// the Pulse default.
		MaxLen int
		// Timeout bounds each Add call. Zero disables it.
		Timeout time.Duration
	}

	// Client opens research run streams.
	Client interface {
		Stream(name string) (Stream, error)
	}

	// Stream is one run's event log.
	Stream interface {
		// Add appends an entry and returns its Redis ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// Reader opens a consumer group that replays the stream from its
		// oldest retained entry.
		Reader(ctx context.Context, name string) (Reader, error)
		// Destroy removes the stream and its entries.
		Destroy(ctx context.Context) error
	}

	// Reader consumes entries from a Stream.
	Reader interface {
		Subscribe() <-chan *streaming.Event
		Ack(ctx context.Context, e *streaming.Event) error
		Close(ctx context.Context)
	}

	client struct {
		rdb     *redis.Client
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		str     *streaming.Stream
		timeout time.Duration
	}

	reader struct {
		sink *streaming.Sink
	}
)

// New returns a Client over opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &client{rdb: opts.Redis, maxLen: opts.MaxLen, timeout: opts.Timeout}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.rdb, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %q: %w", name, err)
	}
	return &handle{str: str, timeout: c.timeout}, nil
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.str.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add %s: %w", event, err)
	}
	return id, nil
}

func (h *handle) Reader(ctx context.Context, name string) (Reader, error) {
	sink, err := h.str.NewSink(ctx, name, streamopts.WithSinkStartAtOldest())
	if err != nil {
		return nil, fmt.Errorf("pulse: open reader %q: %w", name, err)
	}
	return reader{sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	return h.str.Destroy(ctx)
}

func (r reader) Subscribe() <-chan *streaming.Event { return r.sink.Subscribe() }

func (r reader) Ack(ctx context.Context, e *streaming.Event) error { return r.sink.Ack(ctx, e) }

func (r reader) Close(ctx context.Context) { r.sink.Close(ctx) }
