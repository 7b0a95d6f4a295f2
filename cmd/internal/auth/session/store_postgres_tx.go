package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RevokeAllForDeviceTx revokes a device's tokens inside the caller's transaction.
// The device registry uses it so blocking a device and killing its sessions
// commit together.
func RevokeAllForDeviceTx(ctx context.Context, tx pgx.Tx, now time.Time, deviceID, reason string) (int64, error) {
	return revokeWhere(ctx, tx, "device_id", deviceID, now, reason)
}

func createTx(ctx context.Context, q querier, rec RefreshRecord) (RefreshRecord, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO vnipet.refresh_tokens (
			token_hash, user_id, user_type, device_id, device_info, token_family,
			usage_count, created_at, expires_at, is_revoked
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, false)
	`, rec.TokenHash, rec.UserID, rec.UserType, rec.DeviceID, rec.DeviceInfo, rec.TokenFamily, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return RefreshRecord{}, ErrTokenConflict
		}
		return RefreshRecord{}, err
	}
	rec.UsageCount = 0
	rec.IsRevoked = false
	return rec, nil
}

// revokeWhere flips is_revoked for rows matching column = value. column is
// always one of the fixed names above, never caller input.
func revokeWhere(ctx context.Context, q querier, column, value string, now time.Time, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE vnipet.refresh_tokens
		SET is_revoked = true,
		    revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = COALESCE(revoked_reason, $3)
		WHERE `+column+` = $1 AND NOT is_revoked
	`, value, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
