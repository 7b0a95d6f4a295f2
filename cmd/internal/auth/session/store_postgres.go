package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over vnipet.refresh_tokens.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh token store.
// The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const refreshColumns = `
	token_hash, user_id, user_type, device_id, device_info, token_family,
	usage_count, last_used_at, COALESCE(last_used_ip, ''),
	created_at, expires_at, is_revoked, revoked_at, COALESCE(revoked_reason, '')`

func scanRefresh(row pgx.Row) (RefreshRecord, error) {
	var r RefreshRecord
	err := row.Scan(
		&r.TokenHash,
		&r.UserID,
		&r.UserType,
		&r.DeviceID,
		&r.DeviceInfo,
		&r.TokenFamily,
		&r.UsageCount,
		&r.LastUsedAt,
		&r.LastUsedIP,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.IsRevoked,
		&r.RevokedAt,
		&r.RevokedReason,
	)
	return r, err
}

// Create inserts a refresh token row.
func (s *PostgresStore) Create(ctx context.Context, rec RefreshRecord) (RefreshRecord, error) {
	return createTx(ctx, s.pool, rec)
}

// FindByToken loads a refresh token by hash.
func (s *PostgresStore) FindByToken(ctx context.Context, tokenHash string) (RefreshRecord, error) {
	rec, err := scanRefresh(s.pool.QueryRow(ctx,
		`SELECT `+refreshColumns+` FROM vnipet.refresh_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshRecord{}, ErrTokenNotFound
	}
	if err != nil {
		return RefreshRecord{}, err
	}
	return rec, nil
}

// Revoke revokes a single token (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, tokenHash, reason string) (int64, error) {
	return revokeWhere(ctx, s.pool, "token_hash", tokenHash, now, reason)
}

// RevokeAllForUser revokes every token of a user (idempotent).
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return revokeWhere(ctx, s.pool, "user_id", userID, now, reason)
}

// RevokeAllForDevice revokes every token bound to a device (idempotent).
func (s *PostgresStore) RevokeAllForDevice(ctx context.Context, now time.Time, deviceID, reason string) (int64, error) {
	return revokeWhere(ctx, s.pool, "device_id", deviceID, now, reason)
}

// RevokeFamily revokes every token of a family, including ones issued before
// the token that triggered the revocation.
func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return revokeWhere(ctx, s.pool, "token_family", family, now, reason)
}

// RecordUsage atomically increments usage_count and returns the new value.
func (s *PostgresStore) RecordUsage(ctx context.Context, now time.Time, tokenHash, ip string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE vnipet.refresh_tokens
		SET usage_count = usage_count + 1,
		    last_used_at = $2,
		    last_used_ip = COALESCE($3, last_used_ip)
		WHERE token_hash = $1
		RETURNING usage_count
	`, tokenHash, now, nullIfEmpty(ip)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTokenNotFound
	}
	return n, err
}

// CleanupExpired deletes expired rows and revoked rows past retention.
// Deletes are keyed by predicate only, so overlapping sweeps are harmless.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM vnipet.refresh_tokens
		WHERE expires_at < $1
		   OR (is_revoked AND revoked_at < $2)
	`, now, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveForUser returns the user's unrevoked, unexpired tokens.
func (s *PostgresStore) ListActiveForUser(ctx context.Context, now time.Time, userID string) ([]RefreshRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+refreshColumns+`
		FROM vnipet.refresh_tokens
		WHERE user_id = $1 AND NOT is_revoked AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RefreshRecord
	for rows.Next() {
		rec, err := scanRefresh(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
