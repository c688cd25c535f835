package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"

	"orphan-recovery/internal/platform/logger"
)

// GRPCServiceName is the service name published through grpc.health.v1.Health.
const GRPCServiceName = "orphanrecovery.v1.Recovery"

// metadataCorrelationID is the gRPC metadata key for the correlation ID (lowercase per HTTP/2).
const metadataCorrelationID = "x-correlation-id"

// NewGRPCServer returns a gRPC server exposing grpc.health.v1.Health backed by healthSrv, with
// OTel instrumentation and correlation ID propagation. Reflection is registered when enableReflection is true.
func NewGRPCServer(healthSrv *health.Server, log *slog.Logger, enableReflection bool) *grpc.Server {
	if log == nil {
		log = slog.Default()
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(CorrelationUnary(), LoggingUnary(log, healthpb.Health_Check_FullMethodName)),
	)
	healthpb.RegisterHealthServer(s, healthSrv)
	if enableReflection {
		reflection.Register(s)
	}
	return s
}

// CorrelationUnary copies x-correlation-id from incoming metadata onto the context.
func CorrelationUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(metadataCorrelationID); len(v) > 0 {
				ctx = logger.WithCorrelationID(ctx, v[0])
			}
		}
		return handler(ctx, req)
	}
}

// LoggingUnary logs each RPC with its status and latency. Methods in skip are not logged.
func LoggingUnary(log *slog.Logger, skip ...string) grpc.UnaryServerInterceptor {
	skipped := make(map[string]bool, len(skip))
	for _, m := range skip {
		skipped[m] = true
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipped[info.FullMethod] {
			return resp, err
		}
		if err != nil {
			log.WarnContext(ctx, "grpc request failed", "method", info.FullMethod,
				"latency_ms", time.Since(start).Milliseconds(), "error", err)
		} else {
			log.InfoContext(ctx, "grpc request completed", "method", info.FullMethod,
				"latency_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}
