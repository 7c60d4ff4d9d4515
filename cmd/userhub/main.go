package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/platform/config"
	"github.com/userhub/userhub/internal/platform/database"
	"github.com/userhub/userhub/internal/platform/server"
	"github.com/userhub/userhub/internal/platform/telemetry"
	"github.com/userhub/userhub/internal/rbac"
	"github.com/userhub/userhub/internal/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("userhub starting",
		"port", cfg.Server.Port,
		"development", cfg.Server.Development,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Auth
	tokenSvc := auth.NewTokenService(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.TTL())
	hasher, err := auth.NewPasswordHasher(cfg.Auth.Password.Scheme)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}

	// RBAC
	gate := rbac.NewGate(rbac.DefaultRegistry(),
		rbac.WithAuditLogger(rbacAuditAdapter{l: st.audit}),
		rbac.WithLogger(logger),
	)

	// Users
	userSvc := users.NewService(st.users, hasher, tokenSvc, st.audit, logger)
	created, err := userSvc.EnsureAdmin(ctx, users.BootstrapAdmin{
		Username: cfg.Auth.Bootstrap.Username,
		Password: cfg.Auth.Bootstrap.Password,
		Email:    cfg.Auth.Bootstrap.Email,
	})
	if err != nil {
		return fmt.Errorf("bootstrapping admin: %w", err)
	}
	if created {
		slog.Info("bootstrap admin created", "username", cfg.Auth.Bootstrap.Username)
	}

	srv := server.New(cfg.Server.Addr(), server.Dependencies{
		DB:             st.pinger,
		Auth:           tokenSvc,
		Gate:           gate,
		UserHandler:    users.NewHandler(userSvc, logger),
		AuditHandler:   st.auditHandler,
		Logger:         logger,
		CORSOrigins:    cfg.Server.CORSOrigins,
		LoginRateLimit: cfg.Server.LoginRateLimit,
		Development:    cfg.Server.Development,
	})

	// Every policy a route names must resolve before we accept traffic.
	if err := gate.Require(srv.Policies()...); err != nil {
		return fmt.Errorf("route policies: %w", err)
	}

	slog.Info("server ready", "addr", cfg.Server.Addr())
	return srv.Start(ctx)
}

// storage is the persistence wiring chosen at startup.
type storage struct {
	users        users.Repository
	audit        audit.Logger
	auditHandler *audit.Handler
	pinger       database.Pinger
	close        func()
}

// openStorage connects to Postgres when a database URL is configured.
// Without one, development mode falls back to an in-memory user store.
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Database.URL == "" {
		if !cfg.Server.Development {
			return nil, errors.New("database.url is required outside development mode")
		}
		slog.Warn("no database configured, using in-memory user store")
		return &storage{
			users: users.NewMemoryStore(),
			audit: audit.NopLogger{},
			close: func() {},
		}, nil
	}

	slog.Info("connecting to database")
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
	if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations complete")

	auditStore := audit.NewStore()
	auditLogger := audit.NewAsyncLogger(pool, auditStore, audit.LoggerConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval(),
	})
	slog.Info("audit logger started")

	return &storage{
		users:        users.NewStore(pool),
		audit:        auditLogger,
		auditHandler: audit.NewHandler(pool, auditStore),
		pinger:       pool,
		close: func() {
			if err := auditLogger.Close(); err != nil {
				slog.Error("closing audit logger", "error", err)
			}
			if st := auditLogger.Stats(); st.Dropped > 0 || st.Failed > 0 {
				slog.Warn("audit events lost",
					"written", st.Written,
					"dropped", st.Dropped,
					"failed", st.Failed,
				)
			}
			pool.Close()
		},
	}, nil
}

// rbacAuditAdapter bridges audit.Logger to rbac.AuditLogger.
type rbacAuditAdapter struct {
	l audit.Logger
}

// The request id is tagged by the audit logger itself; the adapter only
// carries the owner when it differs from the resource accessed.
func (a rbacAuditAdapter) Log(ctx context.Context, event rbac.AuditEvent) {
	var metadata map[string]any
	if event.Owner != "" && event.Owner != event.Resource {
		metadata = map[string]any{audit.MetadataOwner: event.Owner}
	}
	a.l.Log(ctx, audit.Event{
		ActorID:  event.ActorID,
		Action:   event.Action,
		Policy:   event.Policy,
		Outcome:  event.Outcome.String(),
		Reason:   event.Reason,
		Resource: event.Resource,
		Metadata: metadata,
		Source:   event.Source,
	})
}
