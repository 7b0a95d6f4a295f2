package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole maps empty or unknown roles to RoleUser.
func NormalizeRole(s string) string {
	switch r := strings.ToLower(strings.TrimSpace(s)); r {
	case RoleAdmin, RolePartner:
		return r
	default:
		return RoleUser
	}
}

// validEmail is a shape check only; delivery is never attempted.
func validEmail(s string) bool {
	if len(s) < 3 || len(s) > 254 || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1 && strings.IndexByte(s[at+1:], '.') > 0
}
