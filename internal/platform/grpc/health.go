// Package grpc hosts the operational gRPC health endpoint and the client
// helper that waits on it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves the standard gRPC health protocol for a set of named
// components.
type HealthServer struct {
	grpcServer *gogrpc.Server
	health     *health.Server
	log        *zap.Logger
}

// NewHealthServer builds a health server that reports SERVING for the empty
// service name and every component until told otherwise.
func NewHealthServer(log *zap.Logger, components ...string) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	grpcServer := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, component := range components {
		healthServer.SetServingStatus(component, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return &HealthServer{grpcServer: grpcServer, health: healthServer, log: log}
}

// SetServing flips a component between SERVING and NOT_SERVING.
func (s *HealthServer) SetServing(component string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(component, status)
}

// Serve listens on addr until ctx is done, then stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener until ctx is done.
func (s *HealthServer) ServeListener(ctx context.Context, listener net.Listener) error {
	serveErr := make(chan error, 1)
	s.log.Info("grpc health listening", zap.String("addr", listener.Addr().String()))
	go func() {
		serveErr <- s.grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve grpc health: %w", err)
	}
}

// WaitForHealth blocks until the gRPC health check reports SERVING or the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, log *zap.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			log.Debug("gRPC health check is SERVING", zap.String("component", service))
			return nil
		}
		if err != nil {
			log.Debug("waiting for gRPC health", zap.Error(err))
		} else {
			log.Debug("waiting for gRPC health", zap.String("status", response.GetStatus().String()))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}
}
