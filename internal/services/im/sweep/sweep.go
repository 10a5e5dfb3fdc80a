// Package sweep removes presence descriptors whose connections no longer
// exist: ones this node lost in a restart, and ones held by nodes that stopped
// answering health checks. It also renews the presence lease of users still
// connected to this node.
package sweep

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	platformgrpc "github.com/louisbranch/imrelay/internal/platform/grpc"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/presence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const probeConcurrency = 8

// Prober checks whether the node serving grpcAddress is alive.
type Prober interface {
	Probe(ctx context.Context, grpcAddress string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, grpcAddress string) error

func (f ProberFunc) Probe(ctx context.Context, grpcAddress string) error { return f(ctx, grpcAddress) }

// GRPCProber probes the standard gRPC health service.
func GRPCProber(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = timeouts.HealthProbe
	}
	return ProberFunc(func(ctx context.Context, grpcAddress string) error {
		return platformgrpc.Probe(ctx, grpcAddress, timeout)
	})
}

// LocalCache reports which connections this node still holds.
type LocalCache interface {
	Has(connectionID string) bool
	UserIDs() []string
}

// Config wires a Sweeper.
type Config struct {
	Store       presence.Store
	Cache       LocalCache
	NodeAddress string
	Prober      Prober
	Interval    time.Duration
	// RenewInterval paces lease renewal for locally connected users. It
	// must be shorter than the store's TTL; zero disables renewal.
	RenewInterval time.Duration
	Logger        *zap.Logger
}

// Result summarizes one sweep.
type Result struct {
	Users       int
	Removed     int
	Unreachable []string
}

// Sweeper periodically prunes stale descriptors.
type Sweeper struct {
	store    presence.Store
	cache    LocalCache
	node     string
	prober   Prober
	interval time.Duration
	renew    time.Duration
	logger   *zap.Logger
}

// New validates cfg and returns a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("presence store is required")
	case cfg.Cache == nil:
		return nil, errors.New("local cache is required")
	case cfg.NodeAddress == "":
		return nil, errors.New("node address is required")
	}
	prober := cfg.Prober
	if prober == nil {
		prober = GRPCProber(timeouts.HealthProbe)
	}
	return &Sweeper{
		store:    cfg.Store,
		cache:    cfg.Cache,
		node:     cfg.NodeAddress,
		prober:   prober,
		interval: cfg.Interval,
		renew:    cfg.RenewInterval,
		logger:   logging.OrNop(cfg.Logger).Named("sweep"),
	}, nil
}

// Run sweeps and renews on their intervals until ctx ends. When both
// intervals are non-positive Run returns immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 && s.renew <= 0 {
		return nil
	}
	sweepC, stopSweep := tick(s.interval)
	defer stopSweep()
	renewC, stopRenew := tick(s.renew)
	defer stopRenew()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepC:
			result, err := s.SweepOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("sweep failed", zap.Error(err))
				continue
			}
			if result.Removed > 0 {
				s.logger.Info("sweep removed stale descriptors",
					zap.Int("users", result.Users),
					zap.Int("removed", result.Removed),
					zap.Strings("unreachable", result.Unreachable))
			}
		case <-renewC:
			if _, err := s.RenewOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("presence renewal failed", zap.Error(err))
			}
		}
	}
}

// tick returns a nil channel, which never fires, for a non-positive interval.
func tick(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// RenewOnce extends the presence lease of every user with a connection
// cached on this node and returns how many users it covered.
func (s *Sweeper) RenewOnce(ctx context.Context) (int, error) {
	users := s.cache.UserIDs()
	if len(users) == 0 {
		return 0, nil
	}
	if err := s.store.Renew(ctx, users); err != nil {
		return 0, err
	}
	return len(users), nil
}

// SweepOnce scans every user once. Each peer is probed at most once.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	users, err := s.store.Users(ctx)
	if err != nil {
		return Result{}, err
	}
	snapshot := make(map[string][]connection.Descriptor, len(users))
	var peers []string
	for _, userID := range users {
		descriptors, err := s.store.Load(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		snapshot[userID] = descriptors
		for _, d := range descriptors {
			if addr := d.NodeGRPCAddress(); addr != "" && d.NodeAddress() != s.node && !slices.Contains(peers, addr) {
				peers = append(peers, addr)
			}
		}
	}

	down := s.probe(ctx, peers)
	result := Result{Users: len(users)}
	for addr := range down {
		result.Unreachable = append(result.Unreachable, addr)
	}
	slices.Sort(result.Unreachable)

	for _, userID := range users {
		if !slices.ContainsFunc(snapshot[userID], func(d connection.Descriptor) bool { return s.stale(d, down) }) {
			continue
		}
		removed := 0
		_, err := s.store.Update(ctx, userID, func(current []connection.Descriptor) ([]connection.Descriptor, error) {
			kept := make([]connection.Descriptor, 0, len(current))
			for _, d := range current {
				if !s.stale(d, down) {
					kept = append(kept, d)
				}
			}
			removed = len(current) - len(kept)
			return kept, nil
		})
		if err != nil {
			return result, err
		}
		result.Removed += removed
	}
	return result, nil
}

func (s *Sweeper) stale(d connection.Descriptor, down map[string]struct{}) bool {
	if d.NodeAddress() == s.node {
		return !s.cache.Has(d.ID)
	}
	_, unreachable := down[d.NodeGRPCAddress()]
	return unreachable
}

func (s *Sweeper) probe(ctx context.Context, peers []string) map[string]struct{} {
	var (
		mu   sync.Mutex
		down = make(map[string]struct{})
	)
	var group errgroup.Group
	group.SetLimit(probeConcurrency)
	for _, addr := range peers {
		group.Go(func() error {
			if err := s.prober.Probe(ctx, addr); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Info("peer unreachable", zap.String("node", addr), zap.Error(err))
				mu.Lock()
				down[addr] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return down
}
