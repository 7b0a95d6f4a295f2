// Package app wires the Vnipet auth server runtime: config, logging, storage
// backends, HTTP routes and the refresh token sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/identity"
	authapi "github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/api"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/observability"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/password"
)

var _ authapi.Metrics = (*observability.Metrics)(nil)

// App owns the HTTP server, the sweeper and every long-lived resource.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	handler http.Handler
	sweeper *session.Sweeper
}

// stores groups the persistence backends chosen at start-up.
type stores struct {
	tokens  session.Store
	devices device.Store
	users   identity.Store
	lockout identity.LockoutStore
	audit   authapi.Auditor

	pool  *pgxpool.Pool
	redis *redis.Client
	ping  pinger
}

// New constructs a fully wired App. Resources opened before a failure are
// released before returning.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := TokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	access, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}
	verifier, err := loadVerifier(cfg, log)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			st.close()
		}
	}()

	metrics := observability.NewMetrics(routes...)

	issuer := session.NewIssuer(sessCfg, st.tokens, access, hasher)
	registry := device.NewRegistry(log, st.devices, verifier, device.RegistryConfig{EnforceAppSignature: cfg.AppSignaturesEnforce})
	authn := identity.NewAuthenticator(log, st.users, st.lockout, pwCfg, identity.DefaultLockoutPolicy())

	svc := authapi.NewService(log, issuer, registry, authn,
		authapi.WithMetrics(metrics),
		authapi.WithAuditor(st.audit),
	)

	deps := httpDeps{
		log:     log,
		cfg:     cfg,
		dbPool:  st.pool,
		redis:   st.ping,
		auth:    authapi.NewHandler(log, authCfg, svc),
		metrics: metrics,
	}
	mux := http.NewServeMux()
	registerHTTP(mux, deps)

	log.Info("app.configured",
		"db_enabled", st.pool != nil,
		"redis_enabled", st.redis != nil,
		"token_hmac", hasher.Keyed(),
		"app_signature_enforced", cfg.AppSignaturesEnforce,
		"access_ttl", sessCfg.AccessTokenTTL.String(),
		"refresh_ttl", sessCfg.RefreshTokenTTL.String(),
	)

	return &App{
		cfg:     cfg,
		log:     log,
		dbPool:  st.pool,
		redis:   st.redis,
		handler: buildHandler(mux, deps),
		sweeper: session.NewSweeper(log, st.tokens, sessCfg, session.WithSweepObserver(metrics.Swept)),
	}, nil
}

func loadVerifier(cfg Config, log Logger) (device.AppSignatureVerifier, error) {
	if cfg.AppSignaturesFile == "" {
		if cfg.AppSignaturesEnforce {
			return nil, errors.New("VNIPET_APP_SIGNATURES_ENFORCE=true requires VNIPET_APP_SIGNATURES_FILE")
		}
		return nil, nil
	}
	v, err := device.LoadAllowList(cfg.AppSignaturesFile)
	if err != nil {
		return nil, err
	}
	log.Info("device.signatures.loaded", "file", cfg.AppSignaturesFile, "platforms", v.Platforms())
	return v, nil
}

// openStores picks Postgres when a database URL is configured and in-memory
// stores otherwise. Lockout goes to Redis independently of the database.
func openStores(ctx context.Context, cfg Config, log Logger) (st stores, err error) {
	defer func() {
		if err != nil {
			st.close()
		}
	}()

	if cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return st, err
		}
		lockout := identity.NewRedisLockoutStore(client)
		st.redis, st.lockout, st.ping = client, lockout, lockout
		log.Info("lockout.redis")
	} else {
		st.lockout = identity.NewInMemoryLockoutStore()
		log.Info("lockout.inmemory")
	}

	if cfg.DatabaseURL == "" {
		tokens := session.NewInMemoryStore()
		st.tokens = tokens
		st.devices = device.NewInMemoryStore(tokens)
		st.users = identity.NewInMemoryStore()
		log.Info("db.disabled.inmemory_store")
		return st, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return st, err
	}
	st.pool = pool

	if cfg.DBAutoMigrate {
		if err := Migrate(ctx, pool, log); err != nil {
			return st, fmt.Errorf("migrate: %w", err)
		}
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return st, err
	}
	st.users = users
	st.tokens = session.NewPostgresStore(pool)
	st.devices = device.NewPostgresStore(pool)
	st.audit = authapi.NewPostgresAuditor(log, pool)
	log.Info("db.enabled.postgres_store")
	return st, nil
}

func (s stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the sweeper until ctx is cancelled or the server
// fails, then shuts both down and releases resources.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "base_url", runtimeBaseURL(a.cfg.HTTPAddr), "db_enabled", a.dbPool != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
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

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
