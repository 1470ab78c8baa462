// Package observability wires logging, Prometheus metrics, OpenTelemetry
// tracing and the admin gRPC health server for conduit processes.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// Observability holds all observability components.
type Observability struct {
	Logger         *logging.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
	Shutdown       *ShutdownCoordinator
	ServiceName    string
	ServiceVersion string
	InstanceID     string

	sdkTP *sdktrace.TracerProvider
}

// New initializes logging, tracing, and metrics.
func New(ctx context.Context, cfg config.ObservabilityConfig, w io.Writer) (*Observability, error) {
	logger := SetupLogger(cfg.LogLevel, cfg.LogFormat, w)
	shutdown := &ShutdownCoordinator{Logger: logger}
	instance := uuid.NewString()

	o := &Observability{
		Logger:         logger,
		Metrics:        NewMetrics(),
		Shutdown:       shutdown,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		InstanceID:     instance,
	}

	if cfg.OTLPEndpoint == "" {
		o.TracerProvider = tracenoop.NewTracerProvider()
		logger.Debug("tracing disabled (no otlp_endpoint configured)")
		return o, nil
	}

	tp, err := InitTracer(ctx, TracerConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		InstanceID:     instance,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	shutdown.Register("tracer", tp.Shutdown)
	o.TracerProvider, o.sdkTP = tp, tp
	return o, nil
}

// Close flushes traces and runs shutdown handlers.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// ServeMetrics starts the HTTP server for /metrics and /health. The returned
// address is the one actually bound, so addr may use port 0.
func (o *Observability) ServeMetrics(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Handler: mux}
	go func() {
		o.Logger.Info("metrics server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server error", "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return lis.Addr(), nil
}

// ServeAdmin starts the admin gRPC health server and registers it for shutdown.
func (o *Observability) ServeAdmin(cfg AdminConfig, probe Probe) (*AdminServer, error) {
	a, err := ServeAdmin(cfg, o.Metrics, probe, o.Logger)
	if err != nil {
		return nil, err
	}
	o.Shutdown.Register("admin-server", a.Stop)
	return a, nil
}
