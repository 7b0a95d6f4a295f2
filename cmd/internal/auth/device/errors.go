package device

import "errors"

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceBlocked       = errors.New("device blocked")
	ErrInvalidDeviceID     = errors.New("invalid device id")
	ErrAppSignatureInvalid = errors.New("app signature not allowed")
)
