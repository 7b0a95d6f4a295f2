package session

import (
	"context"
	"time"
)

// Store persists refresh tokens keyed by their hash.
//
// Every mutation is a single atomic statement; no method reads a row and
// writes it back from application code. Revocations are idempotent: they only
// touch rows that are not yet revoked and report how many changed.
type Store interface {
	// Create inserts a new token. A hash collision returns ErrTokenConflict.
	Create(ctx context.Context, rec RefreshRecord) (RefreshRecord, error)

	// FindByToken loads a token by hash or returns ErrTokenNotFound.
	FindByToken(ctx context.Context, tokenHash string) (RefreshRecord, error)

	Revoke(ctx context.Context, now time.Time, tokenHash, reason string) (int64, error)
	RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error)
	RevokeAllForDevice(ctx context.Context, now time.Time, deviceID, reason string) (int64, error)
	RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error)

	// RecordUsage increments the usage counter and returns the new count.
	RecordUsage(ctx context.Context, now time.Time, tokenHash, ip string) (int, error)

	// CleanupExpired deletes expired tokens and revoked tokens older than retention.
	CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)

	// ListActiveForUser returns the user's valid tokens, newest first.
	ListActiveForUser(ctx context.Context, now time.Time, userID string) ([]RefreshRecord, error)
}
