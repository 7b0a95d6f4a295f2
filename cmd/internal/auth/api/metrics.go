package authapi

// Outcome labels shared by the auth counters.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeLocked       = "locked"
	OutcomeMismatch     = "device_mismatch"
	OutcomeUnauthorized = "device_unauthorized"
	OutcomeUserNotFound = "user_not_found"
	OutcomeReuse        = "reuse_detected"
	OutcomeError        = "error"
)

// Metrics receives auth outcomes. The observability package provides the
// Prometheus implementation.
type Metrics interface {
	Login(outcome string)
	Refresh(outcome string)
	Logout(outcome string)
	TokensRevoked(reason string, n int64)
}

type nopMetrics struct{}

func (nopMetrics) Login(string)                {}
func (nopMetrics) Refresh(string)              {}
func (nopMetrics) Logout(string)               {}
func (nopMetrics) TokensRevoked(string, int64) {}
