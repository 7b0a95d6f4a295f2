package device

import (
	"context"
	"time"
)

// TokenRevoker revokes refresh tokens bound to a device. session.Store satisfies it.
type TokenRevoker interface {
	RevokeAllForDevice(ctx context.Context, now time.Time, deviceID, reason string) (int64, error)
}

// Store persists devices and their user links.
type Store interface {
	// CreateIfAbsent inserts d unless a device with the same id exists.
	// It returns the stored device and whether it was created.
	CreateIfAbsent(ctx context.Context, d Device) (Device, bool, error)

	// Get loads a device or returns ErrDeviceNotFound.
	Get(ctx context.Context, deviceID string) (Device, error)

	// Touch refreshes descriptive info and last_seen_at.
	Touch(ctx context.Context, now time.Time, deviceID string, info Info) error

	// UpsertLink activates the (device, user) link, creating it if needed.
	// A matching legacy owner is migrated into the link.
	UpsertLink(ctx context.Context, now time.Time, deviceID, userID string) error

	// DeactivateLink marks the link inactive. A matching legacy owner is
	// retired into an inactive link. Reports whether anything changed.
	DeactivateLink(ctx context.Context, now time.Time, deviceID, userID string) (bool, error)

	// Links lists all links of a device, active or not.
	Links(ctx context.Context, deviceID string) ([]Link, error)

	// IsAuthorized reports whether the device is usable and the user has an
	// active link or is the legacy owner.
	IsAuthorized(ctx context.Context, deviceID, userID string) (bool, error)

	// Disable sets is_active=false (and is_blocked when blocked is true) and
	// revokes the device's refresh tokens in the same unit of work.
	Disable(ctx context.Context, now time.Time, deviceID string, blocked bool, reason, tokenReason string) (int64, error)

	// Activate clears the blocked state and re-enables the device.
	Activate(ctx context.Context, now time.Time, deviceID string) error

	// AdjustTrust adds delta to the trust score, clamped to 0..100, and returns the result.
	AdjustTrust(ctx context.Context, now time.Time, deviceID string, delta int) (int, error)
}
