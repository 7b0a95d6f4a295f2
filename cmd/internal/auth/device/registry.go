package device

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// RegistryConfig controls app-signature handling at registration.
type RegistryConfig struct {
	// EnforceAppSignature rejects registrations whose signature is not on the allow-list.
	// When false, unverified devices register with a lower starting trust score.
	EnforceAppSignature bool
}

// Registry owns device lifecycle: registration, user links, blocking and trust.
type Registry struct {
	log      *slog.Logger
	store    Store
	verifier AppSignatureVerifier
	cfg      RegistryConfig
}

// NewRegistry wires a registry. verifier may be nil, in which case every
// registration is treated as unverified.
func NewRegistry(log *slog.Logger, store Store, verifier AppSignatureVerifier, cfg RegistryConfig) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, store: store, verifier: verifier, cfg: cfg}
}

// RegisterInput is the client's self-description.
type RegisterInput struct {
	// DeviceID is optional; a fresh id is minted when empty.
	DeviceID     string
	Info         Info
	AppSignature string
}

// Register creates the device on first sight and refreshes its info afterwards.
// Registering an existing id never resets trust or block state.
func (r *Registry) Register(ctx context.Context, now time.Time, in RegisterInput) (Device, bool, error) {
	id := strings.TrimSpace(in.DeviceID)
	if id == "" {
		minted, err := ulid.New(ulid.Timestamp(now), rand.Reader)
		if err != nil {
			return Device{}, false, fmt.Errorf("mint device id: %w", err)
		}
		id = minted.String()
	}
	if !ValidID(id) {
		return Device{}, false, ErrInvalidDeviceID
	}

	verified := r.verifier != nil && r.verifier.Verify(in.Info.Platform, in.AppSignature)
	if !verified && r.cfg.EnforceAppSignature {
		r.log.WarnContext(ctx, "device.register.signature_rejected", "device_id", id, "platform", in.Info.Platform)
		return Device{}, false, ErrAppSignatureInvalid
	}

	trust := TrustUnverified
	if verified {
		trust = TrustVerified
	}

	at := now
	d, created, err := r.store.CreateIfAbsent(ctx, Device{
		ID:                id,
		Info:              in.Info,
		TrustScore:        trust,
		SignatureVerified: verified,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastSeenAt:        &at,
	})
	if err != nil {
		return Device{}, false, err
	}
	if created {
		r.log.InfoContext(ctx, "device.registered", "device_id", id, "platform", in.Info.Platform, "verified", verified)
		return d, true, nil
	}

	if err := r.store.Touch(ctx, now, id, in.Info); err != nil {
		return Device{}, false, err
	}
	d, err = r.store.Get(ctx, id)
	return d, false, err
}

// Get loads a device.
func (r *Registry) Get(ctx context.Context, deviceID string) (Device, error) {
	return r.store.Get(ctx, deviceID)
}

// Touch refreshes last_seen_at and descriptive info.
func (r *Registry) Touch(ctx context.Context, now time.Time, deviceID string, info Info) error {
	return r.store.Touch(ctx, now, deviceID, info)
}

// EnsureForLogin returns the device for a login, registering an unknown or
// empty id implicitly. Blocked devices are refused. An inactive device that
// is not blocked is reactivated, since only revocation deactivates it.
func (r *Registry) EnsureForLogin(ctx context.Context, now time.Time, in RegisterInput) (Device, error) {
	id := strings.TrimSpace(in.DeviceID)
	if id == "" {
		d, _, err := r.Register(ctx, now, in)
		return d, err
	}
	if !ValidID(id) {
		return Device{}, ErrInvalidDeviceID
	}

	d, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrDeviceNotFound) {
		in.DeviceID = id
		d, _, err = r.Register(ctx, now, in)
		return d, err
	}
	if err != nil {
		return Device{}, err
	}

	if d.IsBlocked {
		return Device{}, ErrDeviceBlocked
	}
	if !d.IsActive {
		if err := r.store.Activate(ctx, now, id); err != nil {
			return Device{}, err
		}
		d.IsActive = true
	}
	if err := r.store.Touch(ctx, now, id, in.Info); err != nil {
		return Device{}, err
	}
	at := now
	d.Info = in.Info
	d.LastSeenAt = &at
	return d, nil
}

// LinkUser authorizes userID on the device. Re-linking is idempotent.
func (r *Registry) LinkUser(ctx context.Context, now time.Time, deviceID, userID string) error {
	d, err := r.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.IsBlocked {
		return ErrDeviceBlocked
	}
	return r.store.UpsertLink(ctx, now, deviceID, userID)
}

// UnlinkUser removes userID's authorization on the device. Other users'
// links are untouched. Unlinking an unknown device is a no-op.
func (r *Registry) UnlinkUser(ctx context.Context, now time.Time, deviceID, userID string) error {
	changed, err := r.store.DeactivateLink(ctx, now, deviceID, userID)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		r.log.DebugContext(ctx, "device.unlinked", "device_id", deviceID, "user_id", userID)
	}
	return nil
}

// IsUserAuthorizedOnDevice reports whether the device is active, not blocked,
// and linked to the user.
func (r *Registry) IsUserAuthorizedOnDevice(ctx context.Context, deviceID, userID string) (bool, error) {
	if deviceID == "" || userID == "" {
		return false, nil
	}
	return r.store.IsAuthorized(ctx, deviceID, userID)
}

// Links lists the device's user links.
func (r *Registry) Links(ctx context.Context, deviceID string) ([]Link, error) {
	return r.store.Links(ctx, deviceID)
}

// Block disables the device and revokes every refresh token bound to it.
func (r *Registry) Block(ctx context.Context, now time.Time, deviceID, reason string) (int64, error) {
	n, err := r.store.Disable(ctx, now, deviceID, true, reason, session.ReasonDeviceBlocked)
	if err != nil {
		return 0, err
	}
	r.log.WarnContext(ctx, "device.blocked", "device_id", deviceID, "reason", reason, "tokens_revoked", n)
	return n, nil
}

// RevokeDevice deactivates the device without blocking it and revokes its tokens.
// A later login reactivates it.
func (r *Registry) RevokeDevice(ctx context.Context, now time.Time, deviceID string) (int64, error) {
	n, err := r.store.Disable(ctx, now, deviceID, false, "", session.ReasonDeviceRevoked)
	if err != nil {
		return 0, err
	}
	r.log.InfoContext(ctx, "device.revoked", "device_id", deviceID, "tokens_revoked", n)
	return n, nil
}

// Unblock clears a block. Revoked tokens stay revoked.
func (r *Registry) Unblock(ctx context.Context, now time.Time, deviceID string) error {
	if err := r.store.Activate(ctx, now, deviceID); err != nil {
		return err
	}
	r.log.InfoContext(ctx, "device.unblocked", "device_id", deviceID)
	return nil
}

// AdjustTrust adds delta to the trust score and returns the clamped result.
func (r *Registry) AdjustTrust(ctx context.Context, now time.Time, deviceID string, delta int) (int, error) {
	score, err := r.store.AdjustTrust(ctx, now, deviceID, delta)
	if err != nil {
		return 0, err
	}
	if score < TrustThreshold {
		r.log.WarnContext(ctx, "device.trust.low", "device_id", deviceID, "trust_score", score)
	}
	return score, nil
}
