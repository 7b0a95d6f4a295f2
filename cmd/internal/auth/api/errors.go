package authapi

import "errors"

// Session API failures. Each maps to one HTTP status and error code.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account locked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrDeviceMismatch      = errors.New("device mismatch")
	ErrDeviceUnauthorized  = errors.New("device unauthorized")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEmailTaken          = errors.New("email already registered")
	ErrWeakPassword        = errors.New("password does not meet policy")
)
