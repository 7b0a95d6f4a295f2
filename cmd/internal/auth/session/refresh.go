package session

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Revocation reasons stored with a refresh token.
const (
	ReasonRotated       = "rotated"
	ReasonUsageLimit    = "usage_limit"
	ReasonReuseDetected = "reuse_detected"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonDeviceBlocked = "device_blocked"
	ReasonDeviceRevoked = "device_revoked"
	ReasonUserNotFound  = "user_not_found"
)

// DeviceInfo is descriptive client metadata. It is never used for security decisions.
type DeviceInfo struct {
	Platform   string `json:"platform,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	Model      string `json:"model,omitempty"`
}

// RefreshRecord is one persisted refresh token. The plaintext token is never stored.
type RefreshRecord struct {
	TokenHash   string
	UserID      string
	UserType    string
	DeviceID    string
	DeviceInfo  DeviceInfo
	TokenFamily string

	UsageCount int
	LastUsedAt *time.Time
	LastUsedIP string

	CreatedAt time.Time
	ExpiresAt time.Time

	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason string
}

// IsValid reports whether the token may still be exchanged.
func (r RefreshRecord) IsValid(now time.Time) bool {
	return !r.IsRevoked && now.Before(r.ExpiresAt)
}

// RefreshIdentity is what a successful refresh-token lookup reveals to callers.
type RefreshIdentity struct {
	UserID      string
	UserType    string
	DeviceID    string
	DeviceInfo  DeviceInfo
	TokenFamily string
	ExpiresAt   time.Time
	Expired     bool
}

func (r RefreshRecord) identity(now time.Time) *RefreshIdentity {
	return &RefreshIdentity{
		UserID:      r.UserID,
		UserType:    r.UserType,
		DeviceID:    r.DeviceID,
		DeviceInfo:  r.DeviceInfo,
		TokenFamily: r.TokenFamily,
		ExpiresAt:   r.ExpiresAt,
		Expired:     !now.Before(r.ExpiresAt),
	}
}

func newFamilyID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
