package device

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// PostgresStore implements Store over vnipet.devices and vnipet.device_users.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed device store. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const deviceColumns = `
	device_id, platform, os_version, app_version, model,
	trust_score, signature_verified, is_active, is_blocked, COALESCE(blocked_reason, ''),
	COALESCE(legacy_user_id, ''), created_at, updated_at, last_seen_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(
		&d.ID,
		&d.Info.Platform,
		&d.Info.OSVersion,
		&d.Info.AppVersion,
		&d.Info.Model,
		&d.TrustScore,
		&d.SignatureVerified,
		&d.IsActive,
		&d.IsBlocked,
		&d.BlockedReason,
		&d.LegacyUserID,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrDeviceNotFound
	}
	return d, err
}

// CreateIfAbsent inserts the device; ON CONFLICT keeps the existing row untouched.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, d Device) (Device, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO vnipet.devices (
			device_id, platform, os_version, app_version, model,
			trust_score, signature_verified, is_active, is_blocked,
			created_at, updated_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, true, false, $8, $8, $8)
		ON CONFLICT (device_id) DO NOTHING
	`, d.ID, d.Info.Platform, d.Info.OSVersion, d.Info.AppVersion, d.Info.Model,
		d.TrustScore, d.SignatureVerified, d.CreatedAt)
	if err != nil {
		return Device{}, false, err
	}

	stored, err := s.Get(ctx, d.ID)
	if err != nil {
		return Device{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// Get loads a device by id.
func (s *PostgresStore) Get(ctx context.Context, deviceID string) (Device, error) {
	return scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM vnipet.devices WHERE device_id = $1`, deviceID))
}

// Touch updates descriptive info and last_seen_at.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, deviceID string, info Info) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vnipet.devices
		SET platform = $2, os_version = $3, app_version = $4, model = $5,
		    last_seen_at = $6, updated_at = $6
		WHERE device_id = $1
	`, deviceID, info.Platform, info.OSVersion, info.AppVersion, info.Model, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpsertLink is a single INSERT .. ON CONFLICT keyed by (device_id, user_id),
// so concurrent logins of one user on one device never duplicate the link.
func (s *PostgresStore) UpsertLink(ctx context.Context, now time.Time, deviceID, userID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO vnipet.device_users (device_id, user_id, is_active, linked_at, last_login_at)
		VALUES ($1, $2, true, $3, $3)
		ON CONFLICT (device_id, user_id) DO UPDATE
		SET is_active = true, last_login_at = EXCLUDED.last_login_at, unlinked_at = NULL
	`, deviceID, userID, now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrDeviceNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE vnipet.devices SET legacy_user_id = NULL, updated_at = $3
		WHERE device_id = $1 AND legacy_user_id = $2
	`, deviceID, userID, now); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeactivateLink marks the link inactive and retires a matching legacy owner.
func (s *PostgresStore) DeactivateLink(ctx context.Context, now time.Time, deviceID, userID string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	legacy, err := tx.Exec(ctx, `
		UPDATE vnipet.devices SET legacy_user_id = NULL, updated_at = $3
		WHERE device_id = $1 AND legacy_user_id = $2
	`, deviceID, userID, now)
	if err != nil {
		return false, err
	}
	if legacy.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vnipet.device_users (device_id, user_id, is_active, linked_at, unlinked_at)
			SELECT device_id, $2, false, created_at, $3 FROM vnipet.devices WHERE device_id = $1
			ON CONFLICT (device_id, user_id) DO NOTHING
		`, deviceID, userID, now); err != nil {
			return false, err
		}
	}

	link, err := tx.Exec(ctx, `
		UPDATE vnipet.device_users SET is_active = false, unlinked_at = $3
		WHERE device_id = $1 AND user_id = $2 AND is_active
	`, deviceID, userID, now)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return legacy.RowsAffected() > 0 || link.RowsAffected() > 0, nil
}

// Links lists every link of a device ordered by link time.
func (s *PostgresStore) Links(ctx context.Context, deviceID string) ([]Link, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, user_id, is_active, linked_at, last_login_at, unlinked_at
		FROM vnipet.device_users
		WHERE device_id = $1
		ORDER BY linked_at
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.DeviceID, &l.UserID, &l.IsActive, &l.LinkedAt, &l.LastLoginAt, &l.UnlinkedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// IsAuthorized checks device state and both authorization paths in one query.
func (s *PostgresStore) IsAuthorized(ctx context.Context, deviceID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM vnipet.devices d
			WHERE d.device_id = $1
			  AND d.is_active AND NOT d.is_blocked
			  AND (
			    d.legacy_user_id = $2
			    OR EXISTS (
			      SELECT 1 FROM vnipet.device_users u
			      WHERE u.device_id = d.device_id AND u.user_id = $2 AND u.is_active
			    )
			  )
		)
	`, deviceID, userID).Scan(&ok)
	return ok, err
}

// Disable flips the device and revokes its refresh tokens in one transaction.
func (s *PostgresStore) Disable(ctx context.Context, now time.Time, deviceID string, blocked bool, reason, tokenReason string) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE vnipet.devices
		SET is_active = false,
		    is_blocked = is_blocked OR $2,
		    blocked_reason = CASE WHEN $2 THEN $3 ELSE blocked_reason END,
		    updated_at = $4
		WHERE device_id = $1
	`, deviceID, blocked, reason, now)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrDeviceNotFound
	}

	revoked, err := session.RevokeAllForDeviceTx(ctx, tx, now, deviceID, tokenReason)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return revoked, nil
}

// Activate re-enables a device and clears any block.
func (s *PostgresStore) Activate(ctx context.Context, now time.Time, deviceID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vnipet.devices
		SET is_active = true, is_blocked = false, blocked_reason = NULL, updated_at = $2
		WHERE device_id = $1
	`, deviceID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// AdjustTrust applies delta atomically with the clamp done in SQL.
func (s *PostgresStore) AdjustTrust(ctx context.Context, now time.Time, deviceID string, delta int) (int, error) {
	var score int
	err := s.pool.QueryRow(ctx, `
		UPDATE vnipet.devices
		SET trust_score = LEAST($3, GREATEST($4, trust_score + $2)), updated_at = $5
		WHERE device_id = $1
		RETURNING trust_score
	`, deviceID, delta, TrustMax, TrustMin, now).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDeviceNotFound
	}
	return score, err
}
