package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditLoginSuccess       = "auth.login.success"
	AuditLoginFailed        = "auth.login.failed"
	AuditLoginRateLimited   = "auth.login.rate_limited"
	AuditRegister           = "auth.register"
	AuditRefreshSuccess     = "auth.refresh.success"
	AuditRefreshFailed      = "auth.refresh.failed"
	AuditRefreshReuse       = "auth.refresh.reuse_detected"
	AuditLogout             = "auth.logout"
	AuditLogoutAll          = "auth.logout_all"
	AuditDeviceBlocked      = "device.blocked"
	AuditDeviceUnblocked    = "device.unblocked"
	AuditDeviceRevoked      = "device.revoked"
	AuditDeviceTrustLowered = "device.trust.lowered"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	Action    string
	UserID    string
	DeviceID  string
	IP        string
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor records security-relevant events. Implementations must not block
// the request on failure; errors are logged and dropped.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEvent) {}

// PostgresAuditor writes events into vnipet.audit_log.
type PostgresAuditor struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresAuditor(log *slog.Logger, pool *pgxpool.Pool) *PostgresAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{log: log, pool: pool}
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO vnipet.audit_log (
			user_id, device_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5::inet, $6, $7::jsonb)
	`, trimOrNil(ev.UserID), trimOrNil(ev.DeviceID), action, at, trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
