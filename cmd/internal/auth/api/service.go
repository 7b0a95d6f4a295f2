package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/identity"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/password"
)

// Service orchestrates login, refresh, logout and validation over the token
// issuer, the device registry and the account store. It is transport-agnostic;
// Handler adapts it to HTTP.
type Service struct {
	log     *slog.Logger
	issuer  *session.Issuer
	devices *device.Registry
	auth    *identity.Authenticator
	metrics Metrics
	audit   Auditor
	now     func() time.Time
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithMetrics sets the outcome sink.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAuditor sets the audit trail writer.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(log *slog.Logger, issuer *session.Issuer, devices *device.Registry, auth *identity.Authenticator, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:     log,
		issuer:  issuer,
		devices: devices,
		auth:    auth,
		metrics: nopMetrics{},
		audit:   nopAuditor{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Client carries request metadata recorded with tokens and audit rows.
type Client struct {
	IP        string
	UserAgent string
}

// DeviceInput is the device half of a login or registration.
type DeviceInput struct {
	DeviceID     string
	Info         device.Info
	AppSignature string
}

type LoginInput struct {
	Email    string
	Password string
	Device   DeviceInput
	Client   Client
}

type RegisterInput struct {
	Email    string
	Password string
	Device   DeviceInput
	Client   Client
}

// LoginResult is returned by Login and Register.
type LoginResult struct {
	User   identity.User
	Device device.Device
	Tokens session.TokenPair
}

type RefreshInput struct {
	RefreshToken string
	DeviceID     string
	Client       Client
}

type LogoutInput struct {
	RefreshToken string
	DeviceID     string
	Client       Client
}

// Login authenticates credentials, binds the user to the device and issues a pair.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	now := s.now()
	email := identity.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	u, err := s.auth.Authenticate(ctx, now, email, in.Password)
	switch {
	case errors.Is(err, identity.ErrAccountLocked):
		s.metrics.Login(OutcomeLocked)
		s.record(ctx, now, AuditLoginFailed, "", in.Device.DeviceID, in.Client, map[string]any{"reason": "locked"})
		return LoginResult{}, ErrAccountLocked
	case errors.Is(err, identity.ErrInvalidCredentials):
		s.metrics.Login(OutcomeInvalid)
		s.record(ctx, now, AuditLoginFailed, "", in.Device.DeviceID, in.Client, map[string]any{"reason": "invalid_credentials"})
		return LoginResult{}, ErrInvalidCredentials
	case err != nil:
		s.metrics.Login(OutcomeError)
		return LoginResult{}, fmt.Errorf("authenticate: %w", err)
	}

	res, err := s.startSession(ctx, now, u, in.Device)
	if err != nil {
		s.metrics.Login(outcomeFor(err))
		if errors.Is(err, ErrDeviceUnauthorized) {
			s.record(ctx, now, AuditLoginFailed, u.ID, in.Device.DeviceID, in.Client, map[string]any{"reason": "device_unauthorized"})
		}
		return LoginResult{}, err
	}

	s.metrics.Login(OutcomeSuccess)
	s.record(ctx, now, AuditLoginSuccess, u.ID, res.Device.ID, in.Client, map[string]any{"token_family": res.Tokens.TokenFamily})
	s.log.InfoContext(ctx, "auth.login.success", "user_id", u.ID, "device_id", res.Device.ID)
	return res, nil
}

// Register creates a user account and logs it in on the presenting device.
func (s *Service) Register(ctx context.Context, in RegisterInput) (LoginResult, error) {
	now := s.now()

	u, err := s.auth.Register(ctx, now, in.Email, in.Password, identity.RoleUser)
	switch {
	case identity.IsConflict(err):
		return LoginResult{}, ErrEmailTaken
	case password.IsPolicyViolation(err):
		return LoginResult{}, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	case identity.IsInvalidInput(err):
		return LoginResult{}, ErrInvalidRequest
	case err != nil:
		return LoginResult{}, fmt.Errorf("register user: %w", err)
	}

	res, err := s.startSession(ctx, now, u, in.Device)
	if err != nil {
		return LoginResult{}, err
	}

	s.record(ctx, now, AuditRegister, u.ID, res.Device.ID, in.Client, nil)
	s.log.InfoContext(ctx, "auth.register.success", "user_id", u.ID, "device_id", res.Device.ID)
	return res, nil
}

func (s *Service) startSession(ctx context.Context, now time.Time, u identity.User, in DeviceInput) (LoginResult, error) {
	d, err := s.devices.EnsureForLogin(ctx, now, device.RegisterInput{
		DeviceID:     in.DeviceID,
		Info:         in.Info,
		AppSignature: in.AppSignature,
	})
	if err != nil {
		return LoginResult{}, mapDeviceErr(err)
	}
	if err := s.devices.LinkUser(ctx, now, d.ID, u.ID); err != nil {
		return LoginResult{}, mapDeviceErr(err)
	}

	pair, err := s.issuer.IssueTokenPair(ctx, now, subjectOf(u), d.ID, d.Info)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token pair: %w", err)
	}
	return LoginResult{User: u, Device: d, Tokens: pair}, nil
}

// Refresh exchanges a refresh token bound to in.DeviceID for a new pair.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (session.TokenPair, error) {
	now := s.now()
	tok := strings.TrimSpace(in.RefreshToken)
	deviceID := strings.TrimSpace(in.DeviceID)
	if tok == "" {
		s.metrics.Refresh(OutcomeInvalid)
		return session.TokenPair{}, ErrInvalidRefreshToken
	}

	id, err := s.issuer.VerifyRefreshToken(ctx, tok, now, false)
	if err != nil {
		s.metrics.Refresh(OutcomeError)
		return session.TokenPair{}, fmt.Errorf("verify refresh token: %w", err)
	}
	if id == nil {
		err := s.explainRejected(ctx, now, tok, deviceID, in.Client)
		s.metrics.Refresh(outcomeFor(err))
		return session.TokenPair{}, err
	}

	if id.DeviceID != deviceID {
		s.metrics.Refresh(OutcomeMismatch)
		return session.TokenPair{}, s.deviceMismatch(ctx, now, id.UserID, id.DeviceID, deviceID, in.Client)
	}

	u, err := s.auth.LookupUser(ctx, id.UserID)
	if identity.IsNotFound(err) {
		n, rerr := s.issuer.Revoke(ctx, now, tok, session.ReasonUserNotFound)
		if rerr != nil {
			s.metrics.Refresh(OutcomeError)
			return session.TokenPair{}, fmt.Errorf("revoke orphaned token: %w", rerr)
		}
		s.metrics.TokensRevoked(session.ReasonUserNotFound, n)
		s.metrics.Refresh(OutcomeUserNotFound)
		s.log.WarnContext(ctx, "auth.refresh.user_not_found", "user_id", id.UserID, "device_id", id.DeviceID)
		return session.TokenPair{}, ErrUserNotFound
	}
	if err != nil {
		s.metrics.Refresh(OutcomeError)
		return session.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.devices.IsUserAuthorizedOnDevice(ctx, id.DeviceID, id.UserID)
	if err != nil {
		s.metrics.Refresh(OutcomeError)
		return session.TokenPair{}, fmt.Errorf("device authorization: %w", err)
	}
	if !ok {
		s.metrics.Refresh(OutcomeUnauthorized)
		s.record(ctx, now, AuditRefreshFailed, id.UserID, id.DeviceID, in.Client, map[string]any{"reason": "device_unauthorized"})
		return session.TokenPair{}, ErrDeviceUnauthorized
	}

	pair, err := s.issuer.RotateOnRefresh(ctx, now, tok, *id, subjectOf(u), in.Client.IP)
	if err != nil {
		s.metrics.Refresh(OutcomeError)
		return session.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if pair.TokenFamily != id.TokenFamily {
		s.log.WarnContext(ctx, "auth.refresh.family_reset", "user_id", id.UserID, "device_id", id.DeviceID, "old_family", id.TokenFamily)
	}
	s.touchDevice(ctx, now, id.DeviceID)

	s.metrics.Refresh(OutcomeSuccess)
	s.record(ctx, now, AuditRefreshSuccess, id.UserID, id.DeviceID, in.Client, map[string]any{"token_family": pair.TokenFamily})
	return pair, nil
}

// explainRejected classifies a token that failed verification. A replayed
// rotated token revokes its family and lowers the device trust score. A token
// presented from a device other than its own is always ErrDeviceMismatch. A
// token killed by a block or revocation reports ErrDeviceUnauthorized to its
// own device while that device is still disabled. Everything else is
// ErrInvalidRefreshToken.
func (s *Service) explainRejected(ctx context.Context, now time.Time, tok, deviceID string, c Client) error {
	rec, err := s.issuer.Inspect(ctx, tok)
	if err != nil {
		return fmt.Errorf("inspect refresh token: %w", err)
	}
	if rec == nil {
		return ErrInvalidRefreshToken
	}

	reused, err := s.issuer.DetectReuse(ctx, tok, now)
	if err != nil {
		return fmt.Errorf("detect reuse: %w", err)
	}
	if reused != nil {
		s.penalizeReuse(ctx, now, reused, c)
	}

	if rec.DeviceID != deviceID {
		mismatch := s.deviceMismatch(ctx, now, rec.UserID, rec.DeviceID, deviceID, c)
		if reused != nil {
			return errReuseMismatch
		}
		return mismatch
	}
	if reused != nil {
		return errReuse
	}

	if rec.IsRevoked && (rec.RevokedReason == session.ReasonDeviceBlocked || rec.RevokedReason == session.ReasonDeviceRevoked) {
		disabled, err := s.deviceDisabled(ctx, rec.DeviceID)
		if err != nil {
			return err
		}
		if disabled {
			s.record(ctx, now, AuditRefreshFailed, rec.UserID, deviceID, c, map[string]any{"reason": rec.RevokedReason})
			return ErrDeviceUnauthorized
		}
	}
	return ErrInvalidRefreshToken
}

// deviceDisabled reports whether the device is currently blocked or
// inactive. A device that no longer exists counts as disabled.
func (s *Service) deviceDisabled(ctx context.Context, deviceID string) (bool, error) {
	d, err := s.devices.Get(ctx, deviceID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load device: %w", err)
	}
	return d.IsBlocked || !d.IsActive, nil
}

func (s *Service) deviceMismatch(ctx context.Context, now time.Time, userID, bound, presented string, c Client) error {
	s.record(ctx, now, AuditRefreshFailed, userID, presented, c, map[string]any{
		"reason":       "device_mismatch",
		"bound_device": bound,
	})
	s.log.WarnContext(ctx, "auth.refresh.device_mismatch", "user_id", userID, "bound_device", bound, "presented_device", presented)
	return ErrDeviceMismatch
}

func (s *Service) penalizeReuse(ctx context.Context, now time.Time, reused *session.RefreshRecord, c Client) {
	s.log.WarnContext(ctx, "auth.refresh.reuse_detected",
		"user_id", reused.UserID,
		"device_id", reused.DeviceID,
		"token_family", reused.TokenFamily,
	)
	s.record(ctx, now, AuditRefreshReuse, reused.UserID, reused.DeviceID, c, map[string]any{"token_family": reused.TokenFamily})

	score, err := s.devices.AdjustTrust(ctx, now, reused.DeviceID, device.TrustPenaltyReuse)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
	case err != nil:
		s.log.ErrorContext(ctx, "auth.refresh.trust_penalty.fail", "device_id", reused.DeviceID, "err", err)
	default:
		s.record(ctx, now, AuditDeviceTrustLowered, reused.UserID, reused.DeviceID, c, map[string]any{"trust_score": score})
	}
}

// Replays are reported to clients like their non-replay counterparts.
var (
	errReuse         = fmt.Errorf("%w: reuse detected", ErrInvalidRefreshToken)
	errReuseMismatch = fmt.Errorf("%w: reuse detected", ErrDeviceMismatch)
)

// Logout revokes the presented refresh token and unlinks its user from the
// token's device. It never fails from the caller's point of view; problems
// are logged.
func (s *Service) Logout(ctx context.Context, in LogoutInput) {
	now := s.now()
	tok := strings.TrimSpace(in.RefreshToken)

	id, err := s.issuer.VerifyRefreshToken(ctx, tok, now, true)
	if err != nil {
		s.metrics.Logout(OutcomeError)
		s.log.ErrorContext(ctx, "auth.logout.verify.fail", "err", err)
		return
	}
	if id == nil {
		s.metrics.Logout(OutcomeInvalid)
		return
	}

	n, err := s.issuer.Revoke(ctx, now, tok, session.ReasonLogout)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.logout.revoke.fail", "user_id", id.UserID, "err", err)
	}
	s.metrics.TokensRevoked(session.ReasonLogout, n)

	if err := s.devices.UnlinkUser(ctx, now, id.DeviceID, id.UserID); err != nil {
		s.log.ErrorContext(ctx, "auth.logout.unlink.fail", "user_id", id.UserID, "device_id", id.DeviceID, "err", err)
	}
	if d := strings.TrimSpace(in.DeviceID); d != "" && d != id.DeviceID {
		s.log.WarnContext(ctx, "auth.logout.device_mismatch", "user_id", id.UserID, "bound_device", id.DeviceID, "presented_device", d)
	}
	s.touchDevice(ctx, now, id.DeviceID)

	s.metrics.Logout(OutcomeSuccess)
	s.record(ctx, now, AuditLogout, id.UserID, id.DeviceID, in.Client, nil)
}

// LogoutAll revokes every refresh token of the caller and unlinks the
// caller's current device.
func (s *Service) LogoutAll(ctx context.Context, claims session.AccessClaims, c Client) (int64, error) {
	now := s.now()

	n, err := s.issuer.RevokeAllForUser(ctx, now, claims.UserID, session.ReasonLogoutAll)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	s.metrics.TokensRevoked(session.ReasonLogoutAll, n)

	if claims.DeviceID != "" {
		if err := s.devices.UnlinkUser(ctx, now, claims.DeviceID, claims.UserID); err != nil {
			s.log.ErrorContext(ctx, "auth.logout_all.unlink.fail", "user_id", claims.UserID, "err", err)
		}
	}

	s.record(ctx, now, AuditLogoutAll, claims.UserID, claims.DeviceID, c, map[string]any{"revoked": n})
	return n, nil
}

// Validate verifies an access token. It performs no I/O.
func (s *Service) Validate(tok string) (session.AccessClaims, session.Verdict) {
	claims, err := s.issuer.VerifyAccessToken(strings.TrimSpace(tok), s.now())
	return claims, session.Classify(err)
}

// Sessions lists the user's active refresh tokens.
func (s *Service) Sessions(ctx context.Context, userID string) ([]session.RefreshRecord, error) {
	return s.issuer.ActiveSessions(ctx, s.now(), userID)
}

// RegisterDevice registers or refreshes a device outside of login.
func (s *Service) RegisterDevice(ctx context.Context, in DeviceInput) (device.Device, bool, error) {
	d, created, err := s.devices.Register(ctx, s.now(), device.RegisterInput{
		DeviceID:     in.DeviceID,
		Info:         in.Info,
		AppSignature: in.AppSignature,
	})
	if err != nil {
		return device.Device{}, false, mapDeviceErr(err)
	}
	return d, created, nil
}

// BlockDevice blocks a device on behalf of an admin and revokes its tokens.
func (s *Service) BlockDevice(ctx context.Context, actor session.AccessClaims, deviceID, reason string, c Client) (int64, error) {
	now := s.now()
	n, err := s.devices.Block(ctx, now, deviceID, reason)
	if err != nil {
		return 0, err
	}
	s.metrics.TokensRevoked(session.ReasonDeviceBlocked, n)
	s.record(ctx, now, AuditDeviceBlocked, actor.UserID, deviceID, c, map[string]any{"reason": reason, "revoked": n})
	return n, nil
}

// UnblockDevice lifts a block.
func (s *Service) UnblockDevice(ctx context.Context, actor session.AccessClaims, deviceID string, c Client) error {
	now := s.now()
	if err := s.devices.Unblock(ctx, now, deviceID); err != nil {
		return err
	}
	s.record(ctx, now, AuditDeviceUnblocked, actor.UserID, deviceID, c, nil)
	return nil
}

// RevokeDevice deactivates a device and revokes its tokens without blocking it.
func (s *Service) RevokeDevice(ctx context.Context, actor session.AccessClaims, deviceID string, c Client) (int64, error) {
	now := s.now()
	n, err := s.devices.RevokeDevice(ctx, now, deviceID)
	if err != nil {
		return 0, err
	}
	s.metrics.TokensRevoked(session.ReasonDeviceRevoked, n)
	s.record(ctx, now, AuditDeviceRevoked, actor.UserID, deviceID, c, map[string]any{"revoked": n})
	return n, nil
}

func (s *Service) touchDevice(ctx context.Context, now time.Time, deviceID string) {
	d, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return
	}
	if err := s.devices.Touch(ctx, now, deviceID, d.Info); err != nil {
		s.log.DebugContext(ctx, "device.touch.fail", "device_id", deviceID, "err", err)
	}
}

func (s *Service) record(ctx context.Context, now time.Time, action, userID, deviceID string, c Client, meta map[string]any) {
	s.audit.Record(ctx, AuditEvent{
		Action:    action,
		UserID:    userID,
		DeviceID:  deviceID,
		IP:        c.IP,
		UserAgent: c.UserAgent,
		Meta:      meta,
		At:        now,
	})
}

func subjectOf(u identity.User) session.Subject {
	return session.Subject{UserID: u.ID, Role: u.Role, Email: u.Email}
}

func mapDeviceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrDeviceBlocked), errors.Is(err, device.ErrAppSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrDeviceUnauthorized, err)
	case errors.Is(err, device.ErrInvalidDeviceID):
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	default:
		return fmt.Errorf("device: %w", err)
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, errReuse), errors.Is(err, errReuseMismatch):
		return OutcomeReuse
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, ErrDeviceUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrDeviceMismatch):
		return OutcomeMismatch
	case errors.Is(err, ErrUserNotFound):
		return OutcomeUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return OutcomeLocked
	default:
		return OutcomeError
	}
}
