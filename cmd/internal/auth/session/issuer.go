package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/token"
)

const maxIssueAttempts = 3

// Subject is the authenticated principal a token pair is minted for.
type Subject struct {
	UserID string
	Role   string
	Email  string
}

// IssuedRefresh is a freshly minted refresh token. Token is shown to the
// client exactly once and must never be logged.
type IssuedRefresh struct {
	Token       string
	ExpiresAt   time.Time
	TokenFamily string
}

// TokenPair is returned by login, register and refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	ExpiresIn        time.Duration
	RefreshToken     string
	RefreshExpiresAt time.Time
	TokenFamily      string
}

// RefreshInput describes a refresh token to mint.
// An empty TokenFamily starts a new logical session.
type RefreshInput struct {
	UserID      string
	UserType    string
	DeviceID    string
	DeviceInfo  DeviceInfo
	TokenFamily string
}

// Issuer mints, verifies and rotates token pairs.
type Issuer struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
	hasher token.Hasher
}

// NewIssuer wires an Issuer from its immutable config and collaborators.
func NewIssuer(cfg Config, store Store, tokens AccessTokenManager, hasher token.Hasher) *Issuer {
	return &Issuer{cfg: cfg, store: store, tokens: tokens, hasher: hasher}
}

// Config returns the policy the issuer was built with.
func (s *Issuer) Config() Config { return s.cfg }

// PublicKeyHex exposes the access token verification key.
func (s *Issuer) PublicKeyHex() string { return s.tokens.PublicKeyHex() }

// IssueAccessToken signs an access token. ttl <= 0 selects the default
// lifetime and any request above the configured maximum is clamped.
func (s *Issuer) IssueAccessToken(sub Subject, deviceID string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.cfg.AccessTokenTTL
	}
	if ttl > s.cfg.AccessTokenMaxTTL {
		ttl = s.cfg.AccessTokenMaxTTL
	}
	return s.tokens.Issue(AccessClaims{
		UserID:   sub.UserID,
		Role:     sub.Role,
		Email:    sub.Email,
		DeviceID: deviceID,
	}, now, ttl)
}

// IssueRefreshToken mints and persists a refresh token. Hash collisions are
// retried with fresh entropy before ErrTokenConflict is surfaced.
func (s *Issuer) IssueRefreshToken(ctx context.Context, now time.Time, in RefreshInput) (IssuedRefresh, error) {
	if in.UserID == "" || in.DeviceID == "" {
		return IssuedRefresh{}, errors.New("session: refresh token needs user and device")
	}

	family := in.TokenFamily
	if family == "" {
		f, err := newFamilyID(now)
		if err != nil {
			return IssuedRefresh{}, err
		}
		family = f
	}
	exp := now.Add(s.cfg.RefreshTokenTTL)

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		plain, err := token.NewOpaque(s.cfg.RefreshTokenBytes)
		if err != nil {
			return IssuedRefresh{}, err
		}

		_, err = s.store.Create(ctx, RefreshRecord{
			TokenHash:   s.hasher.Hash(plain),
			UserID:      in.UserID,
			UserType:    in.UserType,
			DeviceID:    in.DeviceID,
			DeviceInfo:  in.DeviceInfo,
			TokenFamily: family,
			CreatedAt:   now,
			ExpiresAt:   exp,
		})
		if errors.Is(err, ErrTokenConflict) {
			continue
		}
		if err != nil {
			return IssuedRefresh{}, err
		}
		return IssuedRefresh{Token: plain, ExpiresAt: exp, TokenFamily: family}, nil
	}
	return IssuedRefresh{}, ErrTokenConflict
}

// IssueTokenPair mints an access token and a refresh token in a new family.
func (s *Issuer) IssueTokenPair(ctx context.Context, now time.Time, sub Subject, deviceID string, info DeviceInfo) (TokenPair, error) {
	return s.issuePair(ctx, now, sub, deviceID, info, "")
}

func (s *Issuer) issuePair(ctx context.Context, now time.Time, sub Subject, deviceID string, info DeviceInfo, family string) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(sub, deviceID, now, 0)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.IssueRefreshToken(ctx, now, RefreshInput{
		UserID:      sub.UserID,
		UserType:    sub.Role,
		DeviceID:    deviceID,
		DeviceInfo:  info,
		TokenFamily: family,
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		ExpiresIn:        accessExp.Sub(now.UTC().Truncate(time.Second)),
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		TokenFamily:      refresh.TokenFamily,
	}, nil
}

// VerifyAccessToken checks signature, type and expiry. It performs no I/O.
func (s *Issuer) VerifyAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

// VerifyRefreshToken resolves a refresh token to its owner. Missing, malformed,
// revoked and (unless ignoreExpiry) expired tokens yield nil with no error;
// only store failures are returned as errors.
func (s *Issuer) VerifyRefreshToken(ctx context.Context, tok string, now time.Time, ignoreExpiry bool) (*RefreshIdentity, error) {
	rec, err := s.lookup(ctx, tok)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.IsRevoked {
		return nil, nil
	}
	if !ignoreExpiry && !now.Before(rec.ExpiresAt) {
		return nil, nil
	}
	return rec.identity(now), nil
}

// Inspect returns the stored record for a token in any state, or nil when the
// token is unknown. Callers use it to explain why verification failed.
func (s *Issuer) Inspect(ctx context.Context, tok string) (*RefreshRecord, error) {
	return s.lookup(ctx, tok)
}

// DetectReuse inspects a token that failed verification. A token revoked by
// rotation and presented again after the grace period is treated as stolen:
// its whole family is revoked and the record is returned so the caller can
// penalise the device. Any other case returns nil.
func (s *Issuer) DetectReuse(ctx context.Context, tok string, now time.Time) (*RefreshRecord, error) {
	rec, err := s.lookup(ctx, tok)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.IsRevoked || rec.RevokedReason != ReasonRotated || rec.RevokedAt == nil {
		return nil, nil
	}
	if now.Sub(*rec.RevokedAt) <= s.cfg.ReuseGracePeriod {
		return nil, nil
	}
	if _, err := s.store.RevokeFamily(ctx, now, rec.TokenFamily, ReasonReuseDetected); err != nil {
		return nil, err
	}
	return rec, nil
}

// RotateOnRefresh exchanges a verified refresh token for a new pair.
//
// Every call rotates: the presented token is revoked and its successor
// continues the family. When the presented token has recorded
// RotateAfterUses or more uses (a replayed token racing the legitimate
// client) the entire family is revoked and the new pair starts a fresh one.
// Concurrent refreshes of the same token may both succeed; the family remains
// revocable as a unit.
func (s *Issuer) RotateOnRefresh(ctx context.Context, now time.Time, oldToken string, id RefreshIdentity, sub Subject, ip string) (TokenPair, error) {
	hash := s.hasher.Hash(strings.TrimSpace(oldToken))

	uses, err := s.store.RecordUsage(ctx, now, hash, ip)
	if err != nil {
		return TokenPair{}, err
	}

	family := id.TokenFamily
	if uses >= s.cfg.RotateAfterUses {
		if _, err := s.store.RevokeFamily(ctx, now, family, ReasonUsageLimit); err != nil {
			return TokenPair{}, err
		}
		family = ""
	} else if _, err := s.store.Revoke(ctx, now, hash, ReasonRotated); err != nil {
		return TokenPair{}, err
	}

	return s.issuePair(ctx, now, sub, id.DeviceID, id.DeviceInfo, family)
}

// Revoke revokes one refresh token by its plaintext. Unknown tokens are a no-op.
func (s *Issuer) Revoke(ctx context.Context, now time.Time, tok, reason string) (int64, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, nil
	}
	return s.store.Revoke(ctx, now, s.hasher.Hash(tok), reason)
}

// RevokeAllForUser revokes every refresh token of a user.
func (s *Issuer) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return s.store.RevokeAllForUser(ctx, now, userID, reason)
}

// RevokeFamily revokes every refresh token issued under family.
func (s *Issuer) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return s.store.RevokeFamily(ctx, now, family, reason)
}

// ActiveSessions lists the user's valid refresh tokens.
func (s *Issuer) ActiveSessions(ctx context.Context, now time.Time, userID string) ([]RefreshRecord, error) {
	return s.store.ListActiveForUser(ctx, now, userID)
}

func (s *Issuer) lookup(ctx context.Context, tok string) (*RefreshRecord, error) {
	tok = strings.TrimSpace(tok)
	// Bounds reject pathological input before hashing.
	if tok == "" || len(tok) > 4096 {
		return nil, nil
	}
	rec, err := s.store.FindByToken(ctx, s.hasher.Hash(tok))
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
