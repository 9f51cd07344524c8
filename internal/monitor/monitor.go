// Package monitor wires ingress, identity correlation, normalization,
// detection, and the outbound surfaces into one running engine.
package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpwatch/mcpwatch/internal/correlate"
	"github.com/mcpwatch/mcpwatch/internal/detect"
	"github.com/mcpwatch/mcpwatch/internal/events"
	"github.com/mcpwatch/mcpwatch/internal/metrics"
	"github.com/mcpwatch/mcpwatch/internal/normalize"
	"github.com/mcpwatch/mcpwatch/internal/store"
	"github.com/mcpwatch/mcpwatch/internal/store/envelope"
	"github.com/mcpwatch/mcpwatch/internal/tagreg"
	"github.com/mcpwatch/mcpwatch/pkg/types"
)

const (
	producerName = "mcpwatch"
	// laneCount fixes the number of ordered dispatch lanes. All events
	// for a pid land on one lane in arrival order. Identity mutations
	// from process starts are applied by the dispatcher before fan-out;
	// a pid's process-stop is applied on its lane, only after that
	// pid's earlier events have drained.
	laneCount = 16
	laneDepth = 256
)

// Ingress delivers raw events from the tracing and interception sources.
// The channel closes when the source shuts down.
type Ingress interface {
	Events() <-chan types.Event
	Close() error
}

// TracerSession is an OS-level trace handle. Release must be called even
// on abnormal termination so kernel trace resources are not leaked.
type TracerSession interface {
	Attach(ctx context.Context) error
	Release() error
}

type Options struct {
	Registry *tagreg.Registry
	Corr     *correlate.Manager
	Pipeline *detect.Pipeline
	Events   store.EventStore   // optional
	Findings store.FindingStore // optional
	Broker   *events.Broker     // optional
	Metrics  *metrics.Metrics   // optional
	Sink     *envelope.Sink     // optional
	Tracer   TracerSession      // optional
	Logger   *slog.Logger
}

type Monitor struct {
	registry *tagreg.Registry
	corr     *correlate.Manager
	norm     *normalize.Normalizer
	pipeline *detect.Pipeline
	events   store.EventStore
	findings store.FindingStore
	broker   *events.Broker
	metrics  *metrics.Metrics
	sink     *envelope.Sink
	tracer   TracerSession
	logger   *slog.Logger

	lanes []chan types.Event
}

func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")

	// Registry resolves command lines for the correlator; the correlator
	// answers ancestry lookups for the registry.
	opts.Corr.SetResolver(opts.Registry)
	opts.Registry.SetPropagator(opts.Corr)

	lanes := make([]chan types.Event, laneCount)
	for i := range lanes {
		lanes[i] = make(chan types.Event, laneDepth)
	}

	return &Monitor{
		registry: opts.Registry,
		corr:     opts.Corr,
		norm:     normalize.New(opts.Corr, logger),
		pipeline: opts.Pipeline,
		events:   opts.Events,
		findings: opts.Findings,
		broker:   opts.Broker,
		metrics:  opts.Metrics,
		sink:     opts.Sink,
		tracer:   opts.Tracer,
		logger:   logger,
		lanes:    lanes,
	}
}

// Run processes the ingress stream until it closes or ctx is cancelled.
// Shutdown order: ingress first, then the lanes drain, then queued
// messages flush through the pipeline, then the sink closes.
func (m *Monitor) Run(ctx context.Context, ingress Ingress) error {
	if m.tracer != nil {
		if err := m.tracer.Attach(ctx); err != nil {
			// Tracing is additive; protocol interception still works.
			m.logger.Warn("tracer attach failed, continuing without OS tracing", "error", err)
			m.tracer = nil
		} else {
			defer func() {
				if err := m.tracer.Release(); err != nil {
					m.logger.Error("tracer release failed", "error", err)
				}
			}()
		}
	}

	var g errgroup.Group

	g.Go(func() error { return m.pipeline.Run(ctx) })

	sinkDone := make(chan error, 1)
	if m.sink != nil {
		go func() { sinkDone <- m.sink.Run(ctx) }()
	}

	var laneGroup errgroup.Group
	for _, lane := range m.lanes {
		lane := lane
		laneGroup.Go(func() error {
			for ev := range lane {
				m.handleEvent(ctx, ev)
			}
			return nil
		})
	}

	findingsDone := make(chan struct{})
	go func() {
		defer close(findingsDone)
		for f := range m.pipeline.Findings() {
			m.handleFinding(ctx, f)
		}
	}()

	// Dispatcher. Closing the ingress is the shutdown trigger.
	go func() {
		<-ctx.Done()
		_ = ingress.Close()
	}()

	for ev := range ingress.Events() {
		if err := ev.Validate(); err != nil {
			m.logger.Warn("discarding malformed event", "error", err)
			if m.metrics != nil {
				m.metrics.EventsDropped.Inc()
			}
			continue
		}
		// Tag inheritance reads the parent's state, so starts are applied
		// here in stream order, before fan-out: a child's start on one
		// lane must never observe its parent's start still queued on
		// another. Stops stay on the pid's lane so they apply only after
		// that pid's in-flight events drain.
		if ev.Type == types.TypeProcessStart {
			start := ev.Timestamp
			if start.IsZero() {
				start = time.Now().UTC()
			}
			m.corr.OnProcessStart(ev.PID, ev.Process.ParentPID, ev.Process.CommandLine, start)
		}
		m.lanes[laneFor(ev.PID)] <- ev
	}

	for _, lane := range m.lanes {
		close(lane)
	}
	_ = laneGroup.Wait()

	m.pipeline.Close()
	err := g.Wait()
	<-findingsDone

	// Sink last: findings drained above may still be queued for delivery.
	if m.sink != nil {
		m.sink.Close()
		<-sinkDone
	}
	return err
}

func laneFor(pid int) int {
	if pid < 0 {
		pid = -pid
	}
	return pid % laneCount
}

// handleEvent runs on a lane worker. The event has already been validated
// and, for process starts, applied to the correlator by the dispatcher.
func (m *Monitor) handleEvent(ctx context.Context, ev types.Event) {
	msg, err := m.norm.Normalize(ev)
	if err != nil {
		m.logger.Warn("discarding unnormalizable event", "type", ev.Type, "pid", ev.PID, "error", err)
		if m.metrics != nil {
			m.metrics.EventsDropped.Inc()
		}
		return
	}

	// Stop releases TagState and bindings, but only after the stop event
	// itself has been normalized with the tags it held.
	if ev.Type == types.TypeProcessStop {
		m.corr.OnProcessStop(ev.PID)
	}

	if m.metrics != nil {
		m.metrics.EventsIngested.WithLabelValues(string(ev.Source)).Inc()
	}

	if m.events != nil {
		if err := m.events.AppendEvent(ctx, ev, msg); err != nil {
			m.logger.Error("append event failed", "event_id", ev.ID, "error", err)
		}
	}
	if m.broker != nil {
		m.broker.Publish(events.Update{Message: &msg})
	}
	if err := m.pipeline.Submit(ctx, msg); err != nil {
		m.logger.Warn("pipeline submit failed", "message_id", msg.ID, "error", err)
		if m.metrics != nil {
			m.metrics.EventsDropped.Inc()
		}
	}

	m.emitEnvelope(ctx, msg.PID, m.processName(ev), ev.Type, msg)
}

// processName derives pname from the event's own command line or, for
// file/network/rpc events, from the command line the correlator recorded
// at the pid's process start.
func (m *Monitor) processName(ev types.Event) string {
	if ev.Process != nil && ev.Process.CommandLine != "" {
		return baseCommand(ev.Process.CommandLine)
	}
	return m.pnameFor(ev.PID)
}

func (m *Monitor) pnameFor(pid int) string {
	cmdline, _ := m.corr.CommandLine(pid)
	return baseCommand(cmdline)
}

func baseCommand(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func (m *Monitor) handleFinding(ctx context.Context, f types.Finding) {
	if m.metrics != nil {
		m.metrics.FindingsEmitted.WithLabelValues(f.Engine, f.Severity.String()).Inc()
	}
	if m.findings != nil {
		if err := m.findings.AppendFinding(ctx, f); err != nil {
			m.logger.Error("append finding failed", "finding_id", f.ID, "error", err)
		}
	}
	if m.broker != nil {
		m.broker.Publish(events.Update{Finding: &f})
	}
	m.emitEnvelope(ctx, f.PID, m.pnameFor(f.PID), "finding", f)
}

func (m *Monitor) emitEnvelope(ctx context.Context, pid int, pname, eventType string, data any) {
	if m.sink == nil {
		return
	}
	env, err := envelope.New(producerName, pid, pname, eventType, data)
	if err != nil {
		m.logger.Error("envelope encode failed", "event_type", eventType, "error", err)
		return
	}
	if err := m.sink.Send(ctx, env); err != nil {
		m.logger.Warn("sink send failed", "event_type", eventType, "error", err)
	}
}
