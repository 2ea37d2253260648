package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/glamdesk/salonbook/libs/grpcx"
)

const serviceName = "salonbook.booking.v1.Booking"

// newHealthServer returns a gRPC server exposing grpc.health.v1. Both the
// overall and the booking service status start as NOT_SERVING until the
// first readiness check passes.
func newHealthServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	srv := grpcx.NewServer(logger)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// watchReadiness re-runs check every interval and mirrors the result into hs
// until ctx is done, then marks everything NOT_SERVING.
func watchReadiness(ctx context.Context, logger *slog.Logger, hs *health.Server, check func(context.Context) error, interval time.Duration) {
	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(checkCtx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("readiness check failed", "err", err)
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, check func(context.Context) error) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	srv, hs := newHealthServer(logger)
	go watchReadiness(ctx, logger, hs, check, 5*time.Second)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return nil
}
