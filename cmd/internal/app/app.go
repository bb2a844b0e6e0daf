// Package app wires the Connexa server runtime: config, logging, HTTP routes,
// and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connexa/cmd/internal/auth/password"
	"connexa/cmd/internal/auth/token"
	"connexa/cmd/internal/chat"
	"connexa/cmd/internal/chatapi"
	"connexa/cmd/internal/invite"
	"connexa/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// stores bundles the three persistence interfaces one backend provides.
type stores struct {
	users   chat.UserStore
	convs   chat.ConversationStore
	msgs    chat.MessageStore
	invites invite.Store
}

// App is the Connexa server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *prometheus.Registry

	ws  *realtime.Gateway
	api *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, backend, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenTTL)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	wsMetrics := realtime.NewMetrics(registry)

	presence := realtime.NewRegistry(log)
	lifecycle := realtime.NewLifecycle(log, presence, backend.users, wsMetrics)
	handlers := realtime.NewHandlers(log, backend.convs, backend.msgs, presence, wsMetrics)
	router := realtime.NewRouter(log, wsMetrics, handlers.Table())
	ws := realtime.NewGateway(log, tokens, lifecycle, router, wsMetrics)

	inviteSvc, err := invite.NewService(backend.invites)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	api := chatapi.NewHandler(log, backend.users, backend.convs, backend.msgs, tokens,
		chatapi.WithPageSize(cfg.PageSize),
		chatapi.WithSecureCookies(cfg.SecureCookies),
		chatapi.WithInvites(inviteSvc),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   registry,
		ws:        ws,
		api:       api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.ws, a.api)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func closeQuietly(st Store, log Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		log.Error("store.close.fail", "err", err)
	}
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		mem := chat.NewMemoryStore()
		if err := seedDevUser(mem, log); err != nil {
			return nil, nil, false, stores{}, err
		}
		return nopStore{}, nil, false, stores{
			users:   mem,
			convs:   mem,
			msgs:    mem,
			invites: invite.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, stores{}, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model: app owns the pool lifecycle; PostgresStore never
	// closes it.
	pg, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, stores{}, err
	}
	inviteStore, err := invite.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, stores{}, err
	}

	return dbStore{pool: pool}, pool, true, stores{
		users:   pg,
		convs:   pg,
		msgs:    pg,
		invites: inviteStore,
	}, nil
}

// seedDevUser provisions one login for in-memory mode, which otherwise
// has no way to authenticate. Controlled by CONNEXA_DEV_USER_EMAIL and
// CONNEXA_DEV_USER_PASSWORD; absent means no seed.
func seedDevUser(mem *chat.MemoryStore, log Logger) error {
	email := EnvString("CONNEXA_DEV_USER_EMAIL", "")
	pass := EnvString("CONNEXA_DEV_USER_PASSWORD", "")
	if email == "" || pass == "" {
		return nil
	}

	hash, err := password.Hash(pass, password.DefaultParams())
	if err != nil {
		return err
	}

	id, err := chat.NewID(time.Now())
	if err != nil {
		return err
	}

	mem.PutUser(chat.User{
		ID:           id,
		Name:         EnvString("CONNEXA_DEV_USER_NAME", "Dev User"),
		Email:        email,
		Verified:     true,
		PasswordHash: hash,
	})
	log.Info("db.inmemory.dev_user_seeded", "email", email)
	return nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
