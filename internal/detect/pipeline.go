package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// Pipeline runs every canonical message through the ordered engine set.
// Sync engines run inline on worker goroutines; the semantic engine is
// dispatched asynchronously and joins through the same findings channel.
type Pipeline struct {
	engines []Engine
	poison  *ToolPoisonEngine
	workers int
	logger  *slog.Logger

	in  chan types.CanonicalMessage
	out chan types.Finding
}

// PipelineConfig configures the pipeline.
type PipelineConfig struct {
	Workers   int
	QueueSize int
	// Evaluator for the semantic engine; StaticEvaluator when nil.
	Evaluator Evaluator
	// SemanticCacheSize bounds the (spec, args) score cache; 0 uses the
	// engine default.
	SemanticCacheSize int
	// SemanticTimeout bounds one semantic evaluation; 0 uses the engine
	// default.
	SemanticTimeout time.Duration
	Logger          *slog.Logger
}

// NewPipeline builds the default engine battery.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = StaticEvaluator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		engines: []Engine{
			NewCommandInjectionEngine(),
			NewFilesystemExposureEngine(),
			NewPIILeakEngine(),
			NewDataExfiltrationEngine(),
		},
		poison:  NewToolPoisonEngine(cfg.Evaluator, cfg.SemanticCacheSize, cfg.SemanticTimeout, cfg.Logger),
		workers: cfg.Workers,
		logger:  cfg.Logger,
		in:      make(chan types.CanonicalMessage, cfg.QueueSize),
		out:     make(chan types.Finding, cfg.QueueSize),
	}
}

// Findings is the aggregated output stream. Closed after Close once all
// queued messages, including pending semantic evaluations, have flushed.
func (p *Pipeline) Findings() <-chan types.Finding { return p.out }

// Submit enqueues a message for scoring. Blocks only when the queue is full,
// and respects ctx.
func (p *Pipeline) Submit(ctx context.Context, msg types.CanonicalMessage) error {
	select {
	case p.in <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: submit: %w", ctx.Err())
	}
}

// Run starts the workers and blocks until the input is closed and drained.
// Callers normally run it on its own goroutine and use Close for shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for msg := range p.in {
				p.evaluate(ctx, msg)
			}
			return nil
		})
	}
	err := g.Wait()
	p.poison.Wait()
	close(p.out)
	return err
}

// Close stops intake. Run returns once queued messages have flushed.
func (p *Pipeline) Close() { close(p.in) }

func (p *Pipeline) evaluate(ctx context.Context, msg types.CanonicalMessage) {
	for _, eng := range p.engines {
		for _, f := range eng.Evaluate(msg) {
			// The out channel is consumed until closed, so the send never
			// gates on ctx: cancellation aborts intake, not the drain.
			p.out <- f
		}
	}
	if msg.ToolName != "" {
		p.poison.EvaluateAsync(ctx, msg, p.out)
	}
}
