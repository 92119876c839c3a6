// Package pulsesink adapts events.Sink to goa.design/pulse streams backed by
// Redis, mirroring the layering of the teacher's stream/pulse sink: callers
// build a Redis client, wrap it in a Pulse client, and hand the resulting
// sink to the runner as its events.Sink.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/warpsurf/agentcore/events"
)

// stream is the subset of a Pulse stream handle the sink needs.
type stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// Client opens Pulse streams backed by a Redis connection.
type Client struct {
	redis        *redis.Client
	maxLen       int
	streamOptsFn func(name string) []streamopts.Stream
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Redis is the connection used to back Pulse streams. Required.
	Redis *redis.Client
	// StreamMaxLen bounds entries kept per stream. Zero uses Pulse defaults.
	StreamMaxLen int
	// StreamOptions returns additional options to apply when opening a
	// stream, invoked once per Stream call.
	StreamOptions func(name string) []streamopts.Stream
	// ResultStreamTTL is not read by NewClient; the stream lifetime is
	// set through SinkOptions.ResultStreamTTL when calling NewSink.
	ResultStreamTTL time.Duration
}

// NewClient constructs a Pulse client. opts.Redis is required.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	return &Client{redis: opts.Redis, maxLen: opts.StreamMaxLen, streamOptsFn: opts.StreamOptions}, nil
}

func (c *Client) stream(name string) (stream, error) {
	if name == "" {
		return nil, errors.New("pulsesink: stream name is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.streamOptsFn != nil {
		opts = append(opts, c.streamOptsFn(name)...)
	}
	s, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: create stream: %w", err)
	}
	return s, nil
}

// Envelope wraps an outbound events.Event for transmission over a Pulse
// stream.
type Envelope struct {
	Type      events.Type `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   events.Event `json:"payload"`
}

// Sink implements events.Sink on top of a Pulse client. Each session
// publishes into its own stream, named "session/<sessionID>" unless
// StreamID is overridden.
type Sink struct {
	client *Client
	ttl    time.Duration
	rdb    *redis.Client
	opts   sinkOptions
}

type sinkOptions struct {
	streamID func(events.Event) (string, error)
}

// SinkOptions configures a Sink.
type SinkOptions struct {
	// StreamID derives the target Pulse stream from an event. Defaults to
	// "session/<SessionID>".
	StreamID func(events.Event) (string, error)
	// ResultStreamTTL bounds how long a session's stream lives in Redis.
	// Defaults to 15 minutes when zero.
	ResultStreamTTL time.Duration
}

// NewSink constructs a Sink on top of client, backed by rdb for stream TTL
// management.
func NewSink(client *Client, rdb *redis.Client, opts SinkOptions) (*Sink, error) {
	if client == nil {
		return nil, errors.New("pulsesink: pulse client is required")
	}
	if rdb == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	ttl := opts.ResultStreamTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: client, rdb: rdb, ttl: ttl, opts: sinkOptions{streamID: streamID}}, nil
}

// Send implements events.Sink: it derives the target stream, wraps event in
// an Envelope, and publishes it as a Pulse stream entry.
func (s *Sink) Send(ctx context.Context, event events.Event) error {
	streamName, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	h, err := s.client.stream(streamName)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      event.Type(),
		SessionID: event.SessionID(),
		Timestamp: time.Now().UTC(),
		Payload:   event,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulsesink: marshal envelope: %w", err)
	}
	if _, err := h.Add(ctx, string(env.Type), payload); err != nil {
		return fmt.Errorf("pulsesink: publish event: %w", err)
	}
	return s.setStreamTTL(ctx, streamName)
}

func (s *Sink) setStreamTTL(ctx context.Context, streamName string) error {
	key := fmt.Sprintf("pulse:stream:%s", streamName)
	if _, err := s.rdb.Expire(ctx, key, s.ttl).Result(); err != nil {
		return fmt.Errorf("pulsesink: set stream ttl: %w", err)
	}
	return nil
}

func defaultStreamID(event events.Event) (string, error) {
	if event.SessionID() == "" {
		return "", errors.New("pulsesink: event missing session id")
	}
	return fmt.Sprintf("session/%s", event.SessionID()), nil
}
