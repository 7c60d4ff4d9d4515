package database

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "userhub"

// Pool is a type alias for pgxpool.Pool for use in other packages.
type Pool = pgxpool.Pool

// Pinger is what the readiness check needs from a pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolConfig tunes the connection pool. Zero fields keep the pgxpool
// defaults; ConnectAttempts below 1 means a single attempt.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	ConnectAttempts int
	RetryDelay      time.Duration
}

func (pc PoolConfig) apply(cfg *pgxpool.Config) {
	if pc.MaxConns > 0 && pc.MaxConns <= math.MaxInt32 {
		cfg.MaxConns = int32(pc.MaxConns) // #nosec G115 -- bounds checked above
	}
	if pc.MinConns > 0 && pc.MinConns <= int(cfg.MaxConns) {
		cfg.MinConns = int32(pc.MinConns) // #nosec G115 -- bounded by MaxConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
}

// Connect opens a pool and pings it, retrying up to ConnectAttempts times so
// the service can start alongside a database that is still booting.
func Connect(ctx context.Context, databaseURL string, pc PoolConfig) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	pc.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pingWithRetry(ctx, pool, pc); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingWithRetry(ctx context.Context, db Pinger, pc PoolConfig) error {
	attempts := max(pc.ConnectAttempts, 1)
	delay := pc.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = db.Ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.WarnContext(ctx, "database not reachable, retrying",
			"attempt", attempt,
			"of", attempts,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("pinging database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("pinging database after %d attempts: %w", attempts, err)
}
