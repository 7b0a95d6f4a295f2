package authapi

import (
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// Field names follow the mobile client's existing contract (camelCase).

type deviceInfoJSON struct {
	Platform   string `json:"platform"`
	OSVersion  string `json:"osVersion,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	Model      string `json:"model,omitempty"`
}

func (d deviceInfoJSON) info() device.Info {
	return device.Info{Platform: d.Platform, OSVersion: d.OSVersion, AppVersion: d.AppVersion, Model: d.Model}
}

func toDeviceInfoJSON(i device.Info) deviceInfoJSON {
	return deviceInfoJSON{Platform: i.Platform, OSVersion: i.OSVersion, AppVersion: i.AppVersion, Model: i.Model}
}

type loginRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	DeviceID     string         `json:"deviceId"`
	DeviceInfo   deviceInfoJSON `json:"deviceInfo"`
	AppSignature string         `json:"appSignature"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type deviceRegisterRequest struct {
	DeviceID     string         `json:"deviceId"`
	DeviceInfo   deviceInfoJSON `json:"deviceInfo"`
	AppSignature string         `json:"appSignature"`
}

type deviceAdminRequest struct {
	DeviceID string `json:"deviceId"`
	Reason   string `json:"reason"`
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresIn        int64     `json:"expiresIn"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func toTokensResponse(p session.TokenPair) tokensResponse {
	return tokensResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		ExpiresIn:        int64(p.ExpiresIn / time.Second),
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	Success  bool           `json:"success"`
	Tokens   tokensResponse `json:"tokens"`
	User     userResponse   `json:"user"`
	DeviceID string         `json:"deviceId"`
}

type refreshResponse struct {
	Success bool           `json:"success"`
	Tokens  tokensResponse `json:"tokens"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type revokedResponse struct {
	Success bool  `json:"success"`
	Revoked int64 `json:"revoked"`
}

type claimsResponse struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type validateResponse struct {
	Success bool           `json:"success"`
	Valid   bool           `json:"valid"`
	Claims  claimsResponse `json:"claims"`
}

type sessionView struct {
	DeviceID    string         `json:"deviceId"`
	DeviceInfo  deviceInfoJSON `json:"deviceInfo"`
	TokenFamily string         `json:"tokenFamily"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastUsedAt  *time.Time     `json:"lastUsedAt,omitempty"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Current     bool           `json:"current"`
}

type sessionsResponse struct {
	Success  bool          `json:"success"`
	Sessions []sessionView `json:"sessions"`
}

type deviceView struct {
	DeviceID          string         `json:"deviceId"`
	DeviceInfo        deviceInfoJSON `json:"deviceInfo"`
	TrustScore        int            `json:"trustScore"`
	SignatureVerified bool           `json:"signatureVerified"`
	Created           bool           `json:"created"`
}

type deviceResponse struct {
	Success bool       `json:"success"`
	Device  deviceView `json:"device"`
}
