// Package main provides the task graph scheduler binary entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	schedulerconfig "github.com/petemoore/task-graph-scheduler/config"
	taskscheduler "github.com/petemoore/task-graph-scheduler/processor/task-scheduler"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "scheduler"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		schedulerID string
		natsURL     string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Task graph scheduler",
		Long: `Scheduler reacts to task-completed and task-failed events, progresses
task graphs through running/blocked/finished, and issues reruns and
dependent-task schedule requests to the execution queue.

All components communicate via NATS JetStream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, schedulerID, natsURL, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&schedulerID, "scheduler-id", "", "Scheduler identifier (overrides config)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides config and embedded mode)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, schedulerID, natsURL, logLevel string) error {
	printBanner()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if schedulerID != "" {
		cfg.Scheduler.ID = schedulerID
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
		cfg.NATS.Embedded = false
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx := context.Background()

	embeddedServer, clientURL, err := maybeStartEmbeddedNATS(cfg, logger)
	if err != nil {
		return err
	}
	if embeddedServer != nil {
		defer func() {
			embeddedServer.Shutdown()
			embeddedServer.WaitForShutdown()
		}()
	}

	natsClient, err := connectToNATS(ctx, clientURL, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream context: %w", err)
	}
	if err := ensureStreams(ctx, cfg, js, logger); err != nil {
		return err
	}

	registry := component.NewRegistry()
	if err := taskscheduler.Register(registry); err != nil {
		return fmt.Errorf("register task-scheduler: %w", err)
	}

	rawConfig, err := json.Marshal(schedulerComponentConfig(cfg))
	if err != nil {
		return fmt.Errorf("marshal component config: %w", err)
	}

	comp, err := taskscheduler.NewComponent(rawConfig, component.Dependencies{
		NATSClient: natsClient,
	})
	if err != nil {
		return fmt.Errorf("create task-scheduler component: %w", err)
	}
	lifecycle, ok := comp.(component.LifecycleComponent)
	if !ok {
		return fmt.Errorf("task-scheduler component does not implement LifecycleComponent")
	}
	if err := lifecycle.Initialize(); err != nil {
		return fmt.Errorf("initialize task-scheduler component: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := lifecycle.Start(signalCtx); err != nil {
		return fmt.Errorf("start task-scheduler component: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = startMetricsServer(cfg.Metrics.Addr, comp, logger)
	}

	logger.Info("scheduler ready", "version", Version, "scheduler_id", cfg.Scheduler.ID)

	<-signalCtx.Done()
	logger.Info("received shutdown signal")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	if err := lifecycle.Stop(30 * time.Second); err != nil {
		logger.Error("error stopping task-scheduler component", "error", err)
	}

	logger.Info("scheduler shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║           Task Graph Scheduler v" + Version + "             ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func loadConfig(configPath string) (*schedulerconfig.Config, error) {
	if configPath != "" {
		return schedulerconfig.LoadFromFile(configPath)
	}
	loader := schedulerconfig.NewLoader(slog.Default())
	return loader.Load()
}

// schedulerComponentConfig translates the top-level scheduler config
// into the task-scheduler component's own config shape.
func schedulerComponentConfig(cfg *schedulerconfig.Config) taskscheduler.Config {
	return taskscheduler.Config{
		SchedulerID:           cfg.Scheduler.ID,
		CompletedStreamName:   cfg.Streams.CompletedStreamName,
		CompletedConsumerName: cfg.Streams.CompletedConsumerName,
		FailedStreamName:      cfg.Streams.FailedStreamName,
		FailedConsumerName:    cfg.Streams.FailedConsumerName,
		AckWait:               cfg.Scheduler.AckWait.String(),
		MaxDeliver:            cfg.Scheduler.MaxDeliver,
		BlockedSubjectPrefix:  cfg.Streams.BlockedSubject,
		FinishedSubjectPrefix: cfg.Streams.FinishedSubject,
		RerunSubjectPrefix:    cfg.Streams.RerunSubject,
		ScheduleSubjectPrefix: cfg.Streams.ScheduleSubject,
		ScopeAllowlist:        cfg.Streams.ScopeAllowlist,
	}
}

// maybeStartEmbeddedNATS boots an in-process NATS server with JetStream
// enabled when cfg.NATS.Embedded is set and no explicit URL was given,
// for local development and single-binary deployments.
func maybeStartEmbeddedNATS(cfg *schedulerconfig.Config, logger *slog.Logger) (*server.Server, string, error) {
	if cfg.NATS.URL != "" || !cfg.NATS.Embedded {
		return nil, cfg.NATS.URL, nil
	}

	logger.Info("starting embedded NATS server")
	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, "", fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, "", fmt.Errorf("embedded NATS server failed to start")
	}

	return ns, ns.ClientURL(), nil
}

func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	if url == "" {
		url = "nats://localhost:4222"
	}
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		url = envURL
	}

	logger.Info("connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Set nats.embedded: true in the config to run an in-process server, or
point nats.url / --nats-url at a running NATS JetStream server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// ensureStreams idempotently creates the JetStream streams the broker
// ingress and execution-queue client bind to. A standalone scheduler
// deployment owns its own stream provisioning; a scheduler embedded in a
// larger platform may instead rely on that platform to have created them
// already, in which case these calls are no-ops.
func ensureStreams(ctx context.Context, cfg *schedulerconfig.Config, js jetstream.JetStream, logger *slog.Logger) error {
	streams := map[string][]string{
		cfg.Streams.ExecQueueStreamName: {
			cfg.Streams.ExecQueueStreamName + ".>",
		},
		cfg.Streams.EventsStreamName: {
			cfg.Streams.EventsStreamName + ".>",
		},
	}

	for name, subjects := range streams {
		if name == "" {
			continue
		}
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: subjects,
		})
		if err != nil {
			return fmt.Errorf("ensure stream %s: %w", name, err)
		}
		logger.Debug("jetstream stream ready", "stream", name, "subjects", subjects)
	}

	return nil
}

// startMetricsServer serves the component's private prometheus registry
// over HTTP. Only task-scheduler exposes a Registry() accessor today; a
// component that doesn't is simply skipped.
func startMetricsServer(addr string, comp component.Discoverable, logger *slog.Logger) *http.Server {
	registryHolder, ok := comp.(interface{ Registry() *prometheus.Registry })
	if !ok {
		logger.Warn("component does not expose a metrics registry, /metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registryHolder.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", addr)
	return srv
}
