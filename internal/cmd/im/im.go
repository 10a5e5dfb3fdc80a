// Package im parses IM node command flags and composes the node entrypoint.
package im

import (
	"context"
	"errors"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/imrelay/internal/platform/cmd"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	server "github.com/louisbranch/imrelay/internal/services/im/app"
	"go.uber.org/zap"
)

// Config holds IM node command configuration.
type Config struct {
	PublicAddr           string        `env:"IM_PUBLIC_ADDR"            envDefault:":8086"`
	InternalAddr         string        `env:"IM_INTERNAL_ADDR"          envDefault:":8096"`
	GRPCAddr             string        `env:"IM_GRPC_ADDR"              envDefault:":8097"`
	AdvertiseAddr        string        `env:"IM_ADVERTISE_ADDR"`
	AdvertiseGRPCAddr    string        `env:"IM_ADVERTISE_GRPC_ADDR"`
	RoutePrefix          string        `env:"IM_ROUTE_PREFIX"           envDefault:"/internal"`
	RedisAddr            string        `env:"IM_REDIS_ADDR"`
	RedisPassword        string        `env:"IM_REDIS_PASSWORD"`
	RedisDB              int           `env:"IM_REDIS_DB"               envDefault:"0"`
	PresenceTTL          time.Duration `env:"IM_PRESENCE_TTL"           envDefault:"24h"`
	DirectoryPath        string        `env:"IM_DIRECTORY_PATH"         envDefault:"data/im.db"`
	JWTSecret            string        `env:"IM_JWT_SECRET"`
	JWTIssuer            string        `env:"IM_JWT_ISSUER"`
	SweepInterval        time.Duration `env:"IM_SWEEP_INTERVAL"         envDefault:"1m"`
	BroadcastConcurrency int           `env:"IM_BROADCAST_CONCURRENCY"  envDefault:"64"`
	LogLevel             string        `env:"IM_LOG_LEVEL"              envDefault:"info"`
	LogDevelopment       bool          `env:"IM_LOG_DEVELOPMENT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.PublicAddr, "public-addr", cfg.PublicAddr, "client WebSocket listen address")
	fs.StringVar(&cfg.InternalAddr, "internal-addr", cfg.InternalAddr, "route and admin listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "health gRPC listen address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise-addr", cfg.AdvertiseAddr, "internal address peers use to reach this node")
	fs.StringVar(&cfg.AdvertiseGRPCAddr, "advertise-grpc-addr", cfg.AdvertiseGRPCAddr, "health address peers use to probe this node")
	fs.StringVar(&cfg.RoutePrefix, "route-prefix", cfg.RoutePrefix, "path prefix of the internal routes")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "shared Redis presence address (empty keeps presence in memory)")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	fs.DurationVar(&cfg.PresenceTTL, "presence-ttl", cfg.PresenceTTL, "lease on a user's presence key, renewed while connected (0 disables expiry)")
	fs.StringVar(&cfg.DirectoryPath, "directory-path", cfg.DirectoryPath, "SQLite session directory path")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "stale descriptor sweep interval (0 disables)")
	fs.IntVar(&cfg.BroadcastConcurrency, "broadcast-concurrency", cfg.BroadcastConcurrency, "in-flight sends per broadcast")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogDevelopment, "log-development", cfg.LogDevelopment, "human-readable logs")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("IM_JWT_SECRET is required")
	}
	return cfg, nil
}

// Run builds the node and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{
		Log: logging.Options{Level: cfg.LogLevel, Development: cfg.LogDevelopment},
	}
	return entrypoint.Run(ctx, entrypoint.ServiceIM, options, func(ctx context.Context, logger *zap.Logger) error {
		return server.Run(ctx, server.Config{
			PublicAddr:           cfg.PublicAddr,
			InternalAddr:         cfg.InternalAddr,
			GRPCAddr:             cfg.GRPCAddr,
			AdvertiseAddr:        cfg.AdvertiseAddr,
			AdvertiseGRPCAddr:    cfg.AdvertiseGRPCAddr,
			RoutePrefix:          cfg.RoutePrefix,
			RedisAddr:            cfg.RedisAddr,
			RedisPassword:        cfg.RedisPassword,
			RedisDB:              cfg.RedisDB,
			PresenceTTL:          cfg.PresenceTTL,
			DirectoryPath:        cfg.DirectoryPath,
			JWTSecret:            cfg.JWTSecret,
			JWTIssuer:            cfg.JWTIssuer,
			SweepInterval:        cfg.SweepInterval,
			BroadcastConcurrency: cfg.BroadcastConcurrency,
			Logger:               logger,
		})
	})
}
