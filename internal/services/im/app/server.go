// Package server composes one IM relay node: the client WebSocket listener,
// the internal route and admin listener, and the gRPC health listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/imrelay/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/imrelay/internal/platform/grpc"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	"github.com/louisbranch/imrelay/internal/services/im/api/internalhttp"
	"github.com/louisbranch/imrelay/internal/services/im/auth"
	"github.com/louisbranch/imrelay/internal/services/im/broadcast"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/gateway"
	"github.com/louisbranch/imrelay/internal/services/im/presence"
	"github.com/louisbranch/imrelay/internal/services/im/route"
	"github.com/louisbranch/imrelay/internal/services/im/session"
	"github.com/louisbranch/imrelay/internal/services/im/storage/sqlite"
	"github.com/louisbranch/imrelay/internal/services/im/sweep"
	"github.com/louisbranch/imrelay/internal/services/im/transport/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
)

// Config defines the inputs for one node.
type Config struct {
	PublicAddr   string
	InternalAddr string
	GRPCAddr     string
	// AdvertiseAddr and AdvertiseGRPCAddr are what peers dial. Empty values
	// are derived from the bound listeners.
	AdvertiseAddr     string
	AdvertiseGRPCAddr string
	RoutePrefix       string

	// RedisAddr selects the shared Redis presence store. Empty keeps
	// presence in process memory, which only works for a single node.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// PresenceTTL is the lease on a user's presence key. The node renews
	// it for users it still holds connections for. Zero disables expiry.
	PresenceTTL time.Duration

	DirectoryPath string
	JWTSecret     string
	JWTIssuer     string

	SweepInterval        time.Duration
	BroadcastConcurrency int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *zap.Logger
}

// Server hosts one node.
type Server struct {
	logger          *zap.Logger
	shutdownTimeout time.Duration

	publicListener   net.Listener
	internalListener net.Listener
	grpcListener     net.Listener
	publicServer     *http.Server
	internalServer   *http.Server
	health           *platformgrpc.HealthServer

	directory *sqlite.Store
	redis     redis.UniversalClient
	store     presence.Store
	registry  *session.Registry
	sweeper   *sweep.Sweeper

	nodeAddress string
	grpcAddress string
}

// NewServer binds the listeners and wires every component. Close releases
// what NewServer acquired.
func NewServer(ctx context.Context, cfg Config) (_ *Server, err error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	for name, addr := range map[string]string{"public": cfg.PublicAddr, "internal": cfg.InternalAddr, "grpc": cfg.GRPCAddr} {
		if strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("%s address is required", name)
		}
	}
	if strings.TrimSpace(cfg.DirectoryPath) == "" {
		return nil, errors.New("directory path is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	logger := logging.OrNop(cfg.Logger)

	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger, shutdownTimeout: cfg.ShutdownTimeout}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.publicListener, err = net.Listen("tcp", cfg.PublicAddr); err != nil {
		return nil, fmt.Errorf("listen public: %w", err)
	}
	if s.internalListener, err = net.Listen("tcp", cfg.InternalAddr); err != nil {
		return nil, fmt.Errorf("listen internal: %w", err)
	}
	if s.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen grpc: %w", err)
	}
	s.nodeAddress = discovery.AdvertiseAddr(cfg.AdvertiseAddr, s.internalListener.Addr().String())
	s.grpcAddress = discovery.AdvertiseAddr(cfg.AdvertiseGRPCAddr, s.grpcListener.Addr().String())

	if s.directory, err = sqlite.Open(ctx, cfg.DirectoryPath); err != nil {
		return nil, fmt.Errorf("open session directory: %w", err)
	}
	if s.store, err = s.openPresence(ctx, cfg); err != nil {
		return nil, err
	}

	s.registry, err = session.NewRegistry(session.Config{
		Directory:   s.directory,
		Store:       s.store,
		Forwarder:   route.NewClient(cfg.RoutePrefix),
		NodeAddress: s.nodeAddress,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	dispatcher := broadcast.New(broadcast.WithLogger(logger), broadcast.WithConcurrency(cfg.BroadcastConcurrency))
	gw, err := gateway.New(gateway.Config{
		Registry:    s.registry,
		Broadcaster: dispatcher,
		GRPCAddress: s.grpcAddress,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.registry.OnStatusChange(gw.StatusChanged)

	wsServer, err := ws.NewServer(gw, authenticator, ws.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	publicMux := http.NewServeMux()
	publicMux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	publicMux.Handle("/ws", wsServer)
	s.publicServer = &http.Server{Handler: publicMux, ReadHeaderTimeout: cfg.ReadHeaderTimeout}

	internalHandler, err := internalhttp.NewHandler(internalhttp.Config{
		Registry:    s.registry,
		Broadcaster: dispatcher,
		Prefix:      cfg.RoutePrefix,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.internalServer = &http.Server{Handler: internalHandler, ReadHeaderTimeout: cfg.ReadHeaderTimeout}

	s.health = platformgrpc.NewHealthServer()
	s.sweeper, err = sweep.New(sweep.Config{
		Store:         s.store,
		Cache:         s.registry.Cache(),
		NodeAddress:   s.nodeAddress,
		Interval:      cfg.SweepInterval,
		RenewInterval: presenceRenewInterval(cfg),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) openPresence(ctx context.Context, cfg Config) (presence.Store, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		s.logger.Warn("IM_REDIS_ADDR is empty; presence is local to this process")
		return presence.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s.redis = client
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.RouteRead)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return presence.NewRedisStore(client, presence.WithTTL(cfg.PresenceTTL)), nil
}

// presenceRenewInterval is a third of the lease; zero when nothing expires.
func presenceRenewInterval(cfg Config) time.Duration {
	if strings.TrimSpace(cfg.RedisAddr) == "" || cfg.PresenceTTL <= 0 {
		return 0
	}
	return cfg.PresenceTTL / 3
}

// NodeAddress is the advertised internal address.
func (s *Server) NodeAddress() string { return s.nodeAddress }

// GRPCAddress is the advertised health address.
func (s *Server) GRPCAddress() string { return s.grpcAddress }

// PublicAddr is the bound client listener address.
func (s *Server) PublicAddr() string { return s.publicListener.Addr().String() }

// Registry exposes the node's session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Run creates and serves a node until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init im server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve im: %w", err)
	}
	return nil
}

// ListenAndServe serves every listener until ctx ends or one of them fails,
// then shuts the node down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("im server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	s.logger.Info("im node listening",
		zap.String("public", s.publicListener.Addr().String()),
		zap.String("internal", s.internalListener.Addr().String()),
		zap.String("grpc", s.grpcListener.Addr().String()),
		zap.String("node", s.nodeAddress))
	s.health.SetServing(true)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveHTTP(s.publicServer, s.publicListener)
	})
	group.Go(func() error {
		return serveHTTP(s.internalServer, s.internalListener)
	})
	group.Go(func() error {
		if err := s.health.Server.Serve(s.grpcListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})
	return group.Wait()
}

func serveHTTP(server *http.Server, listener net.Listener) error {
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http %s: %w", listener.Addr(), err)
	}
	return nil
}

// shutdown reports NOT_SERVING first so peers stop routing here, then closes
// client sockets and drops their descriptors before the route listener goes.
func (s *Server) shutdown() error {
	s.health.SetServing(false)
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.publicServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown public server: %w", err))
	}
	s.releaseLocal(ctx)
	if err := s.internalServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown internal server: %w", err))
	}
	s.health.Stop()
	return errors.Join(errs...)
}

func (s *Server) releaseLocal(ctx context.Context) {
	conns := s.registry.Cache().Drain()
	for _, conn := range conns {
		_ = conn.Close()
		id := conn.ID()
		_, err := s.store.Update(ctx, conn.UserID(), func(current []connection.Descriptor) ([]connection.Descriptor, error) {
			kept := make([]connection.Descriptor, 0, len(current))
			for _, d := range current {
				if d.ID != id {
					kept = append(kept, d)
				}
			}
			return kept, nil
		})
		if err != nil {
			s.logger.Warn("release descriptor on shutdown failed", zap.String("connection_id", id), zap.Error(err))
		}
	}
	if len(conns) > 0 {
		s.logger.Info("released local connections", zap.Int("count", len(conns)))
	}
}

// Close releases listeners and stores. It is safe after a failed NewServer.
func (s *Server) Close() {
	if s == nil {
		return
	}
	for _, listener := range []net.Listener{s.publicListener, s.internalListener, s.grpcListener} {
		if listener != nil {
			_ = listener.Close()
		}
	}
	if s.directory != nil {
		if err := s.directory.Close(); err != nil {
			s.logger.Warn("close session directory", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis client", zap.Error(err))
		}
	}
}
