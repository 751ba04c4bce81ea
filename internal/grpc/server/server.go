package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/cert"
	grpctls "github.com/Butterfly-Student/MikroBill-API/internal/grpc/tls"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Config struct {
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
	// AutoGenerate creates a CA and certificate at the paths above when
	// they do not exist yet. CAKeyFile is required with it.
	AutoGenerate bool     `mapstructure:"auto_generate"`
	CAKeyFile    string   `mapstructure:"ca_key_file"`
	Hosts        []string `mapstructure:"hosts"`
}

// Server exposes grpc.health.v1. The overall status ("") is SERVING while the
// process runs; per device streams report under "device/<id>/<service>".
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int
	listener   net.Listener
}

func NewServer(cfg Config) (*Server, error) {
	var opts []grpc.ServerOption
	if cfg.TLS.Enabled {
		if cfg.TLS.AutoGenerate {
			paths := cert.Paths{CACert: cfg.TLS.CAFile, CAKey: cfg.TLS.CAKeyFile, Cert: cfg.TLS.CertFile, Key: cfg.TLS.KeyFile}
			if err := cert.Ensure(paths, cfg.TLS.Hosts); err != nil {
				return nil, fmt.Errorf("failed to prepare gRPC certificates: %w", err)
			}
		}
		clientAuth, err := grpctls.ParseClientAuthType(cfg.TLS.ClientAuth)
		if err != nil {
			return nil, err
		}
		creds, err := grpctls.LoadServerCredentials(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile, clientAuth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", cfg.TLS.ClientAuth)
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		port:       cfg.Port,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// Listen binds the port without serving yet. Start calls it when needed.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = lis
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	slog.Info("Starting gRPC server", "addr", s.listener.Addr().String())

	if err := s.grpcServer.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

func (s *Server) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(service, status)
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
