package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/arverify/internal/config"
	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/logging"
	"github.com/wudi/arverify/internal/pipeline"
	"github.com/wudi/arverify/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/arverify.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	snapshotPath := flag.String("gateways", "", "Path to a JSON gateway-registry snapshot (overrides Consul source)")
	fetchRef := flag.String("fetch", "", "Fetch and verify a single content reference, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arverify %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}

	if *validateOnly {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	sink := &logSink{closer: logCloser}
	defer func() {
		logging.Sync()
		sink.close()
	}()

	logging.Info("starting arverify", zap.String("version", version), zap.String("built", buildTime))

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		logging.Warn("tracing disabled", logging.Err(err))
		tracer, _ = tracing.New(config.TracingConfig{})
	}
	defer func() {
		if err := tracer.Close(); err != nil {
			logging.Warn("tracer shutdown error", logging.Err(err))
		}
	}()

	pc, err := pipeline.New(cfg)
	if err != nil {
		logging.Error("failed to build pipeline", logging.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			logging.Warn("failed to persist pipeline state on shutdown", logging.Err(err))
		}
	}()

	watcher, err := startConfigWatcher(*configPath, pc, sink)
	if err != nil {
		logging.Warn("config hot-reload disabled", logging.Err(err))
	} else {
		defer watcher.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if *snapshotPath != "" {
		if err := loadGatewaySnapshot(ctx, pc, *snapshotPath); err != nil {
			logging.Warn("initial gateway snapshot load failed", logging.Err(err))
		}
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", pc.Metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logging.Info("metrics server listening", logging.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	if *fetchRef != "" {
		runFetch(ctx, pc, *fetchRef)
		shutdown(ctx, metricsServer)
		return
	}

	stopBenchmark := startBenchmarkLoop(ctx, pc, cfg.BenchmarkInterval())
	defer stopBenchmark()

	<-ctx.Done()
	logging.Info("shutdown signal received")
	shutdown(context.Background(), metricsServer)
}

// runFetch drives a single FetchVerifiedContent call from the CLI,
// printing progress to stderr and the final TrustReport (if any) to
// stdout as JSON.
func runFetch(ctx context.Context, pc *pipeline.Context, ref string) {
	events, result := pc.FetchVerifiedContent(ctx, ref)

	go func() {
		for ev := range events {
			switch ev.Kind {
			case pipeline.KindProgressUpdate:
				fmt.Fprintf(os.Stderr, "progress: %.1f%% (%.2f/%.2f MB)\n", ev.Progress.Percentage, ev.Progress.ProcessedMB, ev.Progress.TotalMB)
			case pipeline.KindResourceVerificationUpdate:
				fmt.Fprintf(os.Stderr, "leaf %s: %s\n", ev.ResourceVerification.Reference, ev.ResourceVerification.Status)
			case pipeline.KindMainContentVerificationUpdate:
				fmt.Fprintf(os.Stderr, "verified=%v reason=%s\n", ev.MainVerification.Verified, ev.MainVerification.FailureReason)
			}
		}
	}()

	artifact, ok := <-result
	if !ok || artifact == nil {
		fmt.Fprintln(os.Stderr, "fetch did not produce an artifact (invalid reference or cancelled)")
		os.Exit(1)
	}

	summary := map[string]any{
		"verified":      artifact.Verified,
		"failureReason": artifact.FailureReason,
		"contentType":   artifact.ContentType,
		"bytes":         len(artifact.Bytes),
	}
	if artifact.Manifest != nil {
		summary["manifest"] = map[string]any{
			"total":    artifact.Manifest.Report.Total,
			"verified": artifact.Manifest.Report.Verified,
			"skipped":  artifact.Manifest.Report.Skipped,
			"failed":   artifact.Manifest.Report.Failed,
		}
	}
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	if !artifact.Verified {
		os.Exit(2)
	}
}

// logSink holds whichever logging.Reconfigure-returned io.Closer is
// currently backing the global logger, so a hot-reload can swap it without
// racing the process-exit defer that closes the one active at shutdown.
type logSink struct {
	mu     sync.Mutex
	closer io.Closer
}

func (s *logSink) swap(next io.Closer) {
	s.mu.Lock()
	prev := s.closer
	s.closer = next
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (s *logSink) close() {
	s.mu.Lock()
	c := s.closer
	s.closer = nil
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// startConfigWatcher wires internal/config.Watcher's hot-reload into the
// two live components a config change can safely reach without a restart:
// the logger (reconfigured in place, swapping sink) and the pipeline's
// router/flags (re-pointed via pc.ApplyLiveConfig). A reload that fails
// validation never reaches either callback, so a typo in the config file
// can't tear down a running process.
func startConfigWatcher(configPath string, pc *pipeline.Context, sink *logSink) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return nil, err
	}

	watcher.OnChange(func(cfg *config.Config) {
		closer, err := logging.Reconfigure(logging.Config{
			Level:      cfg.Logging.Level,
			Output:     cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
		if err != nil {
			logging.Error("failed to apply reloaded logging configuration", logging.Err(err))
			return
		}
		sink.swap(closer)
		pc.ApplyLiveConfig(cfg)
	})

	if err := watcher.Start(); err != nil {
		return nil, err
	}
	return watcher, nil
}

// loadGatewaySnapshot feeds the registry from a local JSON file, a
// stand-in transport for the snapshot source's real wire protocol.
func loadGatewaySnapshot(ctx context.Context, pc *pipeline.Context, path string) error {
	return pc.RefreshRegistry(ctx, func(ctx context.Context) ([]*gateway.Gateway, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var snapshot []*gateway.Gateway
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, err
		}
		return snapshot, nil
	})
}

// startBenchmarkLoop runs pc.Benchmark on the configured interval until
// ctx is cancelled.
func startBenchmarkLoop(ctx context.Context, pc *pipeline.Context, interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fastest := pc.Benchmark(ctx, 25)
				if fastest != "" {
					logging.Debug("benchmark cycle complete", logging.String("fastest", fastest))
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-done
	}
}

func shutdown(ctx context.Context, metricsServer *http.Server) {
	if metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("metrics server shutdown error", logging.Err(err))
	}
}
