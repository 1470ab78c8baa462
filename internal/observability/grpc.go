package observability

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/gezibash/arc-conduit/pkg/logging"
)

// DriverService is the health service name that tracks the engine.
const DriverService = "conduit.Driver"

// StreamServerInterceptor returns a gRPC stream interceptor that creates spans and tracks messages.
func StreamServerInterceptor(m *Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractTraceContext(ss.Context())
		ctx, span := otel.Tracer(tracerName).Start(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		err := handler(srv, wrapped)

		span.SetAttributes(
			attribute.Int64("rpc.messages_sent", wrapped.sent.Load()),
			attribute.Int64("rpc.messages_received", wrapped.recv.Load()),
		)
		finishRPC(m, span, info.FullMethod, start, err)
		return err
	}
}

// UnaryServerInterceptor is the unary counterpart of StreamServerInterceptor.
func UnaryServerInterceptor(m *Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := otel.Tracer(tracerName).Start(extractTraceContext(ctx), info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		resp, err := handler(ctx, req)
		finishRPC(m, span, info.FullMethod, start, err)
		return resp, err
	}
}

func finishRPC(m *Metrics, span trace.Span, method string, start time.Time, err error) {
	st, _ := status.FromError(err)
	code := st.Code().String()

	span.SetAttributes(attribute.String("rpc.grpc.status_code", code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	m.OperationDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
	m.OperationTotal.WithLabelValues(method, code).Inc()
}

func extractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	prop := otel.GetTextMapPropagator()
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return prop.Extract(ctx, propagation.HeaderCarrier(md))
}

type wrappedStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent atomic.Int64
	recv atomic.Int64
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func (w *wrappedStream) SendMsg(m any) error {
	err := w.ServerStream.SendMsg(m)
	if err == nil {
		w.sent.Add(1)
	}
	return err
}

func (w *wrappedStream) RecvMsg(m any) error {
	err := w.ServerStream.RecvMsg(m)
	if err == nil {
		w.recv.Add(1)
	}
	return err
}

// Probe reports nil while the engine is able to serve.
type Probe func() error

// AdminConfig configures the admin gRPC server.
type AdminConfig struct {
	Addr             string
	EnableReflection bool
	ProbeInterval    time.Duration
}

// AdminServer exposes grpc.health.v1 with the status of the engine.
type AdminServer struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	probe  Probe
	log    *logging.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// ServeAdmin listens on cfg.Addr and serves health until Stop. The status of
// DriverService and of the server as a whole follows probe.
func ServeAdmin(cfg AdminConfig, m *Metrics, probe Probe, log *logging.Logger) (*AdminServer, error) {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen admin %s: %w", cfg.Addr, err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(m)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if cfg.EnableReflection {
		reflection.Register(srv)
	}

	a := &AdminServer{
		srv:    srv,
		health: hs,
		lis:    lis,
		probe:  probe,
		log:    log.WithComponent("admin"),
		done:   make(chan struct{}),
	}
	a.check()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(lis); err != nil {
			a.log.Error("admin server error", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(cfg.ProbeInterval)
		defer t.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-t.C:
				a.check()
			}
		}
	}()

	a.log.Info("admin server starting", "addr", lis.Addr().String(), "reflection", cfg.EnableReflection)
	return a, nil
}

func (a *AdminServer) check() {
	st := healthpb.HealthCheckResponse_SERVING
	if err := a.probe(); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.health.SetServingStatus("", st)
	a.health.SetServingStatus(DriverService, st)
}

// Addr is the address the server listens on.
func (a *AdminServer) Addr() net.Addr { return a.lis.Addr() }

// Stop marks every service not serving and stops the server, forcing it down
// if ctx ends before open health watches drain.
func (a *AdminServer) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		close(a.done)
		a.health.Shutdown()

		stopped := make(chan struct{})
		go func() {
			a.srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.srv.Stop()
		}
		a.wg.Wait()
	})
	return nil
}
