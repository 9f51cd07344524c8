package envelope

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OverflowPolicy controls what Send does when the outbound queue is full.
type OverflowPolicy string

const (
	// PolicyBuffer blocks the sender until space frees or its context ends.
	PolicyBuffer OverflowPolicy = "buffer"
	// PolicyDrop discards the envelope and counts it.
	PolicyDrop OverflowPolicy = "drop"
)

// Dialer opens a fresh connection to the sink target.
type Dialer func(ctx context.Context) (io.WriteCloser, error)

type SinkConfig struct {
	Producer   string
	QueueSize  int
	Policy     OverflowPolicy
	MaxElapsed time.Duration // per-envelope retry budget
	Logger     *slog.Logger
}

// Sink streams envelopes to an external consumer, reconnecting with
// bounded exponential backoff. Ingestion never halts on sink trouble:
// an envelope whose retry budget is spent is dropped with a counter.
type Sink struct {
	dial    Dialer
	cfg     SinkConfig
	logger  *slog.Logger
	ch      chan Envelope
	conn    io.WriteCloser
	dropped atomic.Uint64
	retries atomic.Uint64
	closed  atomic.Bool
}

func NewSink(dial Dialer, cfg SinkConfig) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBuffer
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		dial:   dial,
		cfg:    cfg,
		logger: logger.With("component", "envelope_sink"),
		ch:     make(chan Envelope, cfg.QueueSize),
	}
}

// Send queues an envelope for delivery. Under PolicyDrop a full queue
// discards the envelope immediately; under PolicyBuffer the call blocks
// until there is room or ctx is done.
func (s *Sink) Send(ctx context.Context, env Envelope) error {
	if s.closed.Load() {
		return fmt.Errorf("sink closed")
	}
	if s.cfg.Policy == PolicyDrop {
		select {
		case s.ch <- env:
			return nil
		default:
			n := s.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				s.logger.Warn("sink queue full, dropping envelope",
					"dropped_total", n, "event_type", env.EventType)
			}
			return nil
		}
	}
	select {
	case s.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting envelopes. Run drains what is already queued
// and then returns.
func (s *Sink) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Run delivers queued envelopes until Close. It returns after the queue
// has drained; ctx cancellation bounds in-flight retries, not intake.
func (s *Sink) Run(ctx context.Context) error {
	defer func() {
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
	}()
	for env := range s.ch {
		if err := s.deliver(ctx, env); err != nil {
			n := s.dropped.Add(1)
			s.logger.Warn("envelope dropped after retry budget",
				"error", err, "dropped_total", n, "event_type", env.EventType)
		}
	}
	return nil
}

func (s *Sink) deliver(ctx context.Context, env Envelope) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = s.cfg.MaxElapsed

	op := func() error {
		if s.conn == nil {
			c, err := s.dial(ctx)
			if err != nil {
				s.retries.Add(1)
				return fmt.Errorf("dial sink: %w", err)
			}
			s.conn = c
		}
		if err := Encode(s.conn, env); err != nil {
			s.retries.Add(1)
			_ = s.conn.Close()
			s.conn = nil
			return err
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// Dropped reports envelopes discarded by overflow or exhausted retries.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Retries reports transient delivery failures that were retried.
func (s *Sink) Retries() uint64 { return s.retries.Load() }
