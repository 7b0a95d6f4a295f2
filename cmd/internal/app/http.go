package app

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/api"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/observability"
)

// routes bounds the metrics "route" label.
var routes = []string{
	"/healthz", "/readyz", "/metrics",
	"/auth/register", "/auth/login", "/auth/refresh", "/auth/logout",
	"/auth/logout_all", "/auth/validate", "/auth/sessions",
	"/devices/register", "/devices/block", "/devices/unblock", "/devices/revoke",
}

// pinger is satisfied by the Redis lockout store.
type pinger interface {
	Ping(ctx context.Context) error
}

type httpDeps struct {
	log     Logger
	cfg     Config
	dbPool  *pgxpool.Pool
	redis   pinger
	auth    *authapi.Handler
	metrics *observability.Metrics
}

func registerHTTP(mux *http.ServeMux, d httpDeps) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && d.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if d.dbPool != nil {
			if err := PingDB(r.Context(), d.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if d.redis != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.redis.Ping(ctx); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if d.metrics != nil && d.cfg.MetricsEnabled {
		mux.Handle("/metrics", d.metrics.Handler())
	}

	if d.auth != nil {
		d.auth.Register(mux)
	}
}

// buildHandler stacks the middleware around mux. Metrics wrap everything so
// CORS rejections are observed too.
func buildHandler(mux http.Handler, d httpDeps) http.Handler {
	var h http.Handler = WithSecurityHeaders(mux)
	if len(d.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, d.cfg, d.log)
	}
	h = WithRequestLogging(h, d.log)
	if d.metrics != nil {
		h = d.metrics.Instrument(h)
	}
	return h
}
