package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the immutable token policy for a running process.
//
// It is built once at start-up and handed to NewIssuer; nothing in this
// package reads the environment after that.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL is the default access token lifetime.
	AccessTokenTTL time.Duration
	// AccessTokenMaxTTL caps any lifetime a caller requests.
	AccessTokenMaxTTL time.Duration

	// RefreshTokenTTL is the lifetime of each refresh token, counted from its issuance.
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated on "nbf"/"iat" checks.
	ClockSkew time.Duration

	// RefreshTokenBytes is the amount of crypto/rand entropy per refresh token.
	RefreshTokenBytes int

	// RotateAfterUses revokes the whole family once a single token records this many uses.
	RotateAfterUses int

	// ReuseGracePeriod is how long a rotated token may be presented again (double-tap
	// refresh on a flaky network) before it counts as replay.
	ReuseGracePeriod time.Duration

	// RevokedRetention is how long revoked rows are kept before the sweep deletes them.
	RevokedRetention time.Duration

	// SweepInterval is the period of the cleanup sweep.
	SweepInterval time.Duration

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key signing access tokens.
	PasetoV4SecretKeyHex string

	// PasetoV4PreviousPublicKeysHex are public keys of retired signing keys.
	// Tokens they signed still verify until they expire.
	PasetoV4PreviousPublicKeysHex []string
}

// DefaultConfig returns the production policy minus key material.
func DefaultConfig() Config {
	return Config{
		Issuer:            "vnipet",
		AccessTokenTTL:    15 * time.Minute,
		AccessTokenMaxTTL: time.Hour,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		RotateAfterUses:   5,
		ReuseGracePeriod:  30 * time.Second,
		RevokedRetention:  30 * 24 * time.Hour,
		SweepInterval:     24 * time.Hour,
	}
}

// LoadConfigFromEnv loads the token policy from environment variables.
//
// Required:
//   - VNIPET_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - VNIPET_PASETO_V4_PREVIOUS_PUBLIC_KEYS_HEX (comma separated)
//   - VNIPET_AUTH_ISSUER
//   - VNIPET_AUTH_ACCESS_TTL, VNIPET_AUTH_ACCESS_MAX_TTL
//   - VNIPET_AUTH_REFRESH_TTL
//   - VNIPET_AUTH_CLOCK_SKEW
//   - VNIPET_AUTH_REFRESH_TOKEN_BYTES (32..64)
//   - VNIPET_AUTH_ROTATE_AFTER_USES
//   - VNIPET_AUTH_REUSE_GRACE
//   - VNIPET_AUTH_REVOKED_RETENTION
//   - VNIPET_SWEEP_INTERVAL
//
// Invalid values fail with a ConfigError wrapping ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("VNIPET_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		allowZero bool
		dst       *time.Duration
	}{
		{"VNIPET_AUTH_ACCESS_TTL", false, &cfg.AccessTokenTTL},
		{"VNIPET_AUTH_ACCESS_MAX_TTL", false, &cfg.AccessTokenMaxTTL},
		{"VNIPET_AUTH_REFRESH_TTL", false, &cfg.RefreshTokenTTL},
		{"VNIPET_AUTH_CLOCK_SKEW", true, &cfg.ClockSkew},
		{"VNIPET_AUTH_REUSE_GRACE", true, &cfg.ReuseGracePeriod},
		{"VNIPET_AUTH_REVOKED_RETENTION", false, &cfg.RevokedRetention},
		{"VNIPET_SWEEP_INTERVAL", false, &cfg.SweepInterval},
	}
	for _, f := range durations {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || (d == 0 && !f.allowZero) {
			return Config{}, ConfigError{Key: f.key}
		}
		*f.dst = d
	}

	if v := os.Getenv("VNIPET_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ConfigError{Key: "VNIPET_AUTH_REFRESH_TOKEN_BYTES"}
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("VNIPET_AUTH_ROTATE_AFTER_USES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, ConfigError{Key: "VNIPET_AUTH_ROTATE_AFTER_USES"}
		}
		cfg.RotateAfterUses = n
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("VNIPET_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ConfigError{Key: "VNIPET_PASETO_V4_SECRET_KEY_HEX"}
	}

	for _, k := range strings.Split(os.Getenv("VNIPET_PASETO_V4_PREVIOUS_PUBLIC_KEYS_HEX"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.PasetoV4PreviousPublicKeysHex = append(cfg.PasetoV4PreviousPublicKeysHex, k)
		}
	}

	if cfg.AccessTokenMaxTTL < cfg.AccessTokenTTL {
		return Config{}, ConfigError{Key: "VNIPET_AUTH_ACCESS_MAX_TTL"}
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return Config{}, ConfigError{Key: "VNIPET_AUTH_REFRESH_TTL"}
	}

	return cfg, nil
}
