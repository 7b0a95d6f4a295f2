package device

import (
	"strings"
	"time"
	"unicode"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// Info is descriptive device metadata shared with refresh token snapshots.
type Info = session.DeviceInfo

// Trust score bounds and adjustments.
const (
	TrustMin        = 0
	TrustMax        = 100
	TrustThreshold  = 30
	TrustVerified   = 60
	TrustUnverified = 40

	// TrustPenaltyReuse is applied when a replayed refresh token is seen from the device.
	TrustPenaltyReuse = -40
)

const maxDeviceIDLen = 128

// Device is one client installation.
type Device struct {
	ID                string
	Info              Info
	TrustScore        int
	SignatureVerified bool
	IsActive          bool
	IsBlocked         bool
	BlockedReason     string

	// LegacyUserID is the single owner recorded before devices could be shared.
	// It is only set on imported rows and is retired on the owner's first logout.
	LegacyUserID string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt *time.Time
}

// Trusted reports whether the device clears the informational trust threshold.
func (d Device) Trusted() bool {
	return d.IsActive && !d.IsBlocked && d.TrustScore >= TrustThreshold
}

// Link is one (device, user) association.
type Link struct {
	DeviceID    string
	UserID      string
	IsActive    bool
	LinkedAt    time.Time
	LastLoginAt *time.Time
	UnlinkedAt  *time.Time
}

func clampTrust(n int) int {
	if n < TrustMin {
		return TrustMin
	}
	if n > TrustMax {
		return TrustMax
	}
	return n
}

// ValidID reports whether id is an acceptable client-supplied device id:
// 1..128 printable characters without whitespace.
func ValidID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLen {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) < 0
}
