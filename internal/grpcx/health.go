package grpcx

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Pinger reports whether a dependency answers; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 for the process (empty service name)
// and for the named service.
type HealthServer struct {
	srv     *grpc.Server
	health  *health.Server
	service string
	log     *zap.Logger
}

func NewHealthServer(service string, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	h := &HealthServer{
		srv:     grpc.NewServer(),
		health:  health.NewServer(),
		service: service,
		log:     log,
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	reflection.Register(h.srv)
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) SetServing(ok bool) {
	if ok {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(h.service, st)
}

// Watch pings db every interval and flips the serving status to match.
func (h *HealthServer) Watch(ctx context.Context, db Pinger, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	last := true
	for {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		ok := err == nil
		if ok != last {
			h.log.Warn("health changed", zap.Bool("serving", ok), zap.Error(err))
		}
		h.SetServing(ok)
		last = ok

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (h *HealthServer) Serve(l net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", l.Addr().String()))
	return h.srv.Serve(l)
}

// Stop marks the service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
