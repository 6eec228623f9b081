// Package app composes the pairing service: storage, the session store, the
// coordinator and the HTTP, WebSocket and gRPC health surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/louisbranch/checkpointsync/internal/platform/config"
	platformgrpc "github.com/louisbranch/checkpointsync/internal/platform/grpc"
	"github.com/louisbranch/checkpointsync/internal/platform/timeouts"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/api"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/coordinator"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/registry"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/session"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	redisstore "github.com/louisbranch/checkpointsync/internal/services/pairing/storage/redis"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/sqlite"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthComponent is the gRPC health service name of the pairing service.
const HealthComponent = "pairing"

// Session bookkeeping backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// Blob storage backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

const defaultPruneInterval = 10 * time.Minute

// Config defines the inputs of the pairing process.
type Config struct {
	HTTPAddr string
	// GRPCAddr serves the gRPC health protocol. Empty disables it.
	GRPCAddr string

	DBPath          string
	SessionBackend  string
	RedisURL        string
	RedisSessionTTL time.Duration

	BlobBackend string
	UploadsDir  string
	S3          blob.S3Config

	PushMode          string
	CaptureTimeout    time.Duration
	MaxCaptureRetries int
	CheckpointsFile   string
	MaxUploadBytes    int64

	// SessionRetention is how long completed sessions stay in memory.
	// Zero keeps them for the life of the process.
	SessionRetention time.Duration
	PruneInterval    time.Duration

	Transport transport.Options

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the pairing HTTP, WebSocket and gRPC health endpoints.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	retention       time.Duration
	pruneInterval   time.Duration
	log             *zap.Logger

	httpServer  *http.Server
	health      *platformgrpc.HealthServer
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	devices     *transport.Server
	sessions    *session.Store
	closers     []func() error
}

// NewServer opens storage and wires every component.
func NewServer(ctx context.Context, cfg Config, log *zap.Logger) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	mode, err := coordinator.ParsePushMode(cfg.PushMode)
	if err != nil {
		return nil, err
	}

	s := &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(cfg.GRPCAddr),
		shutdownTimeout: cfg.ShutdownTimeout,
		retention:       cfg.SessionRetention,
		pruneInterval:   cfg.PruneInterval,
		log:             log,
	}
	if err := s.wire(ctx, cfg, mode); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(ctx context.Context, cfg Config, mode coordinator.PushMode) error {
	images, err := OpenImageStore(cfg.DBPath)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, images.Close)

	sessionRepo, err := s.openSessionRepository(ctx, cfg, images)
	if err != nil {
		return err
	}
	blobs, err := openBlobStore(ctx, cfg, s.log)
	if err != nil {
		return err
	}

	var allow coordinator.Allowlist
	if path := strings.TrimSpace(cfg.CheckpointsFile); path != "" {
		list, err := config.LoadCheckpointAllowList(path)
		if err != nil {
			return err
		}
		s.log.Info("checkpoint allow-list loaded", zap.String("path", path), zap.Int("checkpoints", list.Len()))
		allow = list
	}

	s.sessions = session.New(session.Config{
		Images:       images,
		Sessions:     sessionRepo,
		Logger:       s.log.Named("session"),
		WriteTimeout: timeouts.Repository,
	})
	s.registry = registry.New(s.log.Named("registry"))
	s.coordinator = coordinator.New(coordinator.Config{
		Registry:          s.registry,
		Sessions:          s.sessions,
		Logger:            s.log.Named("coordinator"),
		PushMode:          mode,
		CaptureTimeout:    cfg.CaptureTimeout,
		MaxCaptureRetries: cfg.MaxCaptureRetries,
		Checkpoints:       allow,
	})

	handler := api.New(api.Config{
		Images:         images,
		Blobs:          blobs,
		Sessions:       s.sessions,
		Coordinator:    s.coordinator,
		Logger:         s.log.Named("api"),
		Checkpoints:    allow,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	router := api.NewRouter(handler)
	wsOptions := cfg.Transport
	wsOptions.Logger = s.log.Named("transport")
	s.devices = transport.NewServer(s.coordinator, wsOptions)
	router.Any("/ws", gin.WrapH(s.devices))

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if s.grpcAddr != "" {
		s.health = platformgrpc.NewHealthServer(s.log.Named("health"), HealthComponent)
	}
	s.log.Info("pairing service configured",
		zap.String("push_mode", string(mode)),
		zap.String("session_backend", sessionBackend(cfg)),
		zap.String("blob_backend", blobBackend(cfg)),
		zap.Duration("capture_timeout", cfg.CaptureTimeout),
	)
	return nil
}

// OpenImageStore opens the SQLite store at path, creating its directory.
func OpenImageStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pairing sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) openSessionRepository(ctx context.Context, cfg Config, images *sqlite.Store) (storage.SessionRepository, error) {
	switch sessionBackend(cfg) {
	case SessionBackendSQLite:
		return images, nil
	case SessionBackendRedis:
		store, err := redisstore.Open(ctx, cfg.RedisURL, cfg.RedisSessionTTL)
		if err != nil {
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

func openBlobStore(ctx context.Context, cfg Config, log *zap.Logger) (blob.Store, error) {
	switch blobBackend(cfg) {
	case BlobBackendFS:
		store, err := blob.NewFS(cfg.UploadsDir)
		if err != nil {
			return nil, fmt.Errorf("open upload dir: %w", err)
		}
		return store, nil
	case BlobBackendS3:
		store, err := blob.NewS3(ctx, cfg.S3, log.Named("s3"))
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func sessionBackend(cfg Config) string {
	if backend := strings.ToLower(strings.TrimSpace(cfg.SessionBackend)); backend != "" {
		return backend
	}
	return SessionBackendSQLite
}

func blobBackend(cfg Config) string {
	if backend := strings.ToLower(strings.TrimSpace(cfg.BlobBackend)); backend != "" {
		return backend
	}
	return BlobBackendFS
}

// Run creates and serves a pairing server until ctx ends.
func Run(ctx context.Context, cfg Config, log *zap.Logger) error {
	server, err := NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init pairing server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve pairing: %w", err)
	}
	return nil
}

// ListenAndServe binds the configured addresses and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpAddr, err)
	}
	var grpcListener net.Listener
	if s.health != nil {
		grpcListener, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("listen on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpListener, grpcListener)
}

// Serve runs the servers on the given listeners until ctx ends or one of
// them fails. grpcListener may be nil when the health server is disabled.
func (s *Server) Serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	if s == nil {
		return errors.New("pairing server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.serveHTTP(groupCtx, httpListener)
	})
	if s.health != nil && grpcListener != nil {
		group.Go(func() error {
			return s.health.ServeListener(groupCtx, grpcListener)
		})
	}
	if s.retention > 0 {
		group.Go(func() error {
			s.pruneLoop(groupCtx)
			return nil
		})
	}
	return group.Wait()
}

func (s *Server) serveHTTP(ctx context.Context, listener net.Listener) error {
	serveErr := make(chan error, 1)
	s.log.Info("pairing server listening", zap.String("addr", listener.Addr().String()))
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// shutdown notifies connected devices, then drains HTTP and pending writes.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if s.health != nil {
		s.health.SetServing(HealthComponent, false)
	}
	if err := s.coordinator.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("notify devices of shutdown", zap.Error(err))
	}
	// Hijacked connections outlive http.Server.Shutdown.
	if err := s.devices.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("close device connections", zap.Error(err))
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := s.sessions.Flush(shutdownCtx); err != nil {
		s.log.Warn("flush session writes", zap.Error(err))
	}
	return nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if pruned := s.sessions.Prune(now.Add(-s.retention)); pruned > 0 {
				s.log.Info("pruned completed sessions", zap.Int("count", pruned))
			}
		}
	}
}

// Close releases storage. It is safe to call on a partially built server.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		if err := s.sessions.Close(ctx); err != nil {
			s.log.Warn("close session store", zap.Error(err))
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close storage", zap.Error(err))
		}
	}
	s.closers = nil
}

// Handler returns the HTTP handler, including the /ws endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
