package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails signature, issuer or claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when an otherwise valid access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when a correctly signed token is not an access token.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrTokenNotFound is returned by stores when no refresh token matches the hash.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenConflict is returned when a refresh token hash collides with an existing row.
	// Callers retry with fresh entropy.
	ErrTokenConflict = errors.New("refresh token conflict")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ConfigError names the setting that failed validation.
type ConfigError struct {
	Key string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfig.Error(), e.Key)
}

func (e ConfigError) Unwrap() error { return ErrConfig }
