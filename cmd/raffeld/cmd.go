package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
	"github.com/raffel-dev/raffel/runtime/logger"
	"github.com/raffel-dev/raffel/runtime/metrics/prometheus"
	"github.com/raffel-dev/raffel/runtime/telemetry"
	"github.com/raffel-dev/raffel/runtime/validators"
	"github.com/raffel-dev/raffel/server"
)

// configError marks a failure in flag/env parsing, mapped to exit code 2.
type configError struct{ cause error }

func (e *configError) Error() string { return e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

// bindError marks a listener failure, mapped to exit code 1.
type bindError struct{ cause error }

func (e *bindError) Error() string { return e.cause.Error() }
func (e *bindError) Unwrap() error { return e.cause }

func exitCodeFor(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	var bErr *bindError
	if errors.As(err, &bErr) {
		return 1
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "raffeld",
	Short: "Raffel reference host",
	Long: `raffeld hosts a core.Registry of procedures behind every Raffel
transport adapter (HTTP/REST+SSE, JSON-RPC, WebSocket, and optionally TCP
and UDP) until interrupted.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err == nil {
				logger.SetVerbose(verbose)
			}
		}
	},
	RunE: runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("host", "", "bind address for the shared HTTP listener")
	flags.Int("port", 8080, "port for HTTP/REST, SSE, JSON-RPC, and WebSocket")
	flags.String("base-path", "", "path prefix stripped before procedure resolution")
	flags.Int64("max-body-size", 1<<20, "maximum HTTP/JSON-RPC request body size in bytes")
	flags.Int("tcp-port", 0, "port for the raw-TCP adapter; 0 disables it")
	flags.Int("udp-port", 0, "port for the UDP adapter; 0 disables it")
	flags.Bool("verbose", false, "enable debug-level logging")
	flags.String("tracing-endpoint", "", "OTLP/HTTP endpoint for distributed tracing; empty disables tracing")
	flags.String("config", "", "path to a YAML config file providing defaults for the flags above")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("RAFFEL")
	viper.AutomaticEnv()
	_ = viper.BindEnv("shutdown_grace_ms", "RAFFEL_SHUTDOWN_GRACE_MS")
}

func runServe(cmd *cobra.Command, args []string) error {
	if path := viper.GetString("config"); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return &configError{cause: err}
		}
		applyFileConfig(fc, viper.SetDefault)
	}

	host := viper.GetString("host")
	port := viper.GetInt("port")
	if port <= 0 || port > 65535 {
		return &configError{cause: fmt.Errorf("invalid --port: %d", port)}
	}
	basePath := viper.GetString("base-path")
	maxBodySize := viper.GetInt64("max-body-size")
	tcpPort := viper.GetInt("tcp-port")
	udpPort := viper.GetInt("udp-port")

	shutdownGrace := 10 * time.Second
	if ms := viper.GetInt("shutdown_grace_ms"); ms > 0 {
		shutdownGrace = time.Duration(ms) * time.Millisecond
	}

	exporter := prometheus.NewExporter("")
	sink := prometheus.NewSink(exporter.Registry())

	opts := []server.Option{
		server.WithHost(host),
		server.WithHTTPPort(port),
		server.WithBasePath(basePath),
		server.WithMaxBodySize(maxBodySize),
		server.WithShutdownGrace(shutdownGrace),
		server.WithValidator(validators.NewSchemaValidator()),
		server.WithMetrics(sink, exporter.Handler()),
		server.WithEvents(events.NewEventBus()),
	}
	if tcpPort > 0 {
		opts = append(opts, server.WithTCPPort(tcpPort))
	}
	if udpPort > 0 {
		opts = append(opts, server.WithUDPPort(udpPort))
	}

	var tracerProvider *sdktrace.TracerProvider
	if endpoint := viper.GetString("tracing-endpoint"); endpoint != "" {
		tp, err := telemetry.NewTracerProvider(context.Background(), endpoint, "raffeld")
		if err != nil {
			return &configError{cause: fmt.Errorf("tracing provider: %w", err)}
		}
		telemetry.SetupPropagation()
		tracerProvider = tp
		opts = append(opts, server.WithTracer(telemetry.NewOTelTracer(tp)))
	}

	registry := core.NewRegistry()
	if err := registerDemoProcedures(registry); err != nil {
		return &configError{cause: err}
	}

	srv := server.New(registry, logger.DefaultLogger, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-sigCh:
		logger.Info("shutdown signal received, draining")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace+time.Second)
		serveErr = srv.Shutdown(ctx)
		cancel()
	}

	if tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = tracerProvider.Shutdown(ctx)
		cancel()
	}

	if serveErr != nil {
		return &bindError{cause: serveErr}
	}
	return nil
}
