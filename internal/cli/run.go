package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcpwatch/mcpwatch/internal/api"
	"github.com/mcpwatch/mcpwatch/internal/config"
	"github.com/mcpwatch/mcpwatch/internal/correlate"
	"github.com/mcpwatch/mcpwatch/internal/detect"
	"github.com/mcpwatch/mcpwatch/internal/events"
	"github.com/mcpwatch/mcpwatch/internal/metrics"
	"github.com/mcpwatch/mcpwatch/internal/monitor"
	"github.com/mcpwatch/mcpwatch/internal/store/envelope"
	"github.com/mcpwatch/mcpwatch/internal/store/sqlite"
	"github.com/mcpwatch/mcpwatch/internal/tagreg"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor, reading events from stdin",
		Long: "Run the monitor. The interception layer delivers one JSON event per\n" +
			"line on stdin; findings and normalized messages are persisted, streamed\n" +
			"over the API, and forwarded to the configured sink.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return runMonitor(cmd.Context(), cfg, os.Stdin)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config YAML")
	return cmd
}

func runMonitor(ctx context.Context, cfg *config.Config, input io.Reader) error {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := sqlite.Open(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := tagreg.New(cfg.Host.Name, logger)
	registry.Load(cfg.Registry.Paths...)

	corr := correlate.NewManager(cfg.Correlate.MaxDepth, logger)

	semTimeout, err := time.ParseDuration(cfg.Pipeline.SemanticTimeout)
	if err != nil {
		return fmt.Errorf("pipeline.semantic_timeout: %w", err)
	}
	pipeline := detect.NewPipeline(detect.PipelineConfig{
		Workers:           cfg.Pipeline.Workers,
		QueueSize:         cfg.Pipeline.QueueSize,
		SemanticCacheSize: cfg.Pipeline.SemanticCacheSize,
		SemanticTimeout:   semTimeout,
		Logger:            logger,
	})

	broker := events.NewBroker()
	m := metrics.New()
	m.RegisterCounterFunc("mcpwatch_correlation_ambiguities_total",
		"Network correlations resolved to the unlabeled tag.",
		func() float64 { return float64(corr.Ambiguities()) })
	m.RegisterCounterFunc("mcpwatch_broker_drops_total",
		"Live-stream updates dropped for slow subscribers.",
		func() float64 { return float64(broker.DroppedCount()) })

	var sink *envelope.Sink
	if cfg.Sink.Target != "" {
		budget, err := time.ParseDuration(cfg.Sink.RetryBudget)
		if err != nil {
			return fmt.Errorf("sink.retry_budget: %w", err)
		}
		target := cfg.Sink.Target
		sink = envelope.NewSink(func(ctx context.Context) (io.WriteCloser, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", target)
		}, envelope.SinkConfig{
			Producer:   "mcpwatch",
			QueueSize:  cfg.Sink.QueueSize,
			Policy:     envelope.OverflowPolicy(cfg.Sink.OnFailure),
			MaxElapsed: budget,
			Logger:     logger,
		})
		m.RegisterCounterFunc("mcpwatch_sink_retries_total",
			"Transient sink delivery failures that were retried.",
			func() float64 { return float64(sink.Retries()) })
		m.RegisterCounterFunc("mcpwatch_sink_drops_total",
			"Envelopes dropped by overflow policy or exhausted retries.",
			func() float64 { return float64(sink.Dropped()) })
	}

	mon := monitor.New(monitor.Options{
		Registry: registry,
		Corr:     corr,
		Pipeline: pipeline,
		Events:   st,
		Findings: st,
		Broker:   broker,
		Metrics:  m,
		Sink:     sink,
		Logger:   logger,
	})

	var g errgroup.Group

	if cfg.Registry.Watch && len(cfg.Registry.Paths) > 0 {
		watcher := tagreg.NewWatcher(registry, cfg.Registry.Paths,
			time.Duration(cfg.Registry.DebounceMS)*time.Millisecond, logger)
		m.RegisterCounterFunc("mcpwatch_registry_reloads_total",
			"Tag registry hot reloads applied.",
			func() float64 { return float64(watcher.Reloads()) })
		g.Go(func() error { return watcher.Start(ctx) })
	}

	if cfg.API.Enabled {
		srv := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewApp(st, st, broker, m).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("api listening", "addr", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	ingress := monitor.NewReaderIngress(input, logger)
	logger.Info("mcpwatch running",
		"host", cfg.Host.Name,
		"max_depth", cfg.Correlate.MaxDepth,
		"store", cfg.Store.SQLitePath)

	runErr := mon.Run(ctx, ingress)
	stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("background task failed", "error", err)
	}
	return runErr
}
