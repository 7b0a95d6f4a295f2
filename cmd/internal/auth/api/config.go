package authapi

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

// Config controls HTTP-facing auth behavior.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP sliding window applied to login and registration.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// AllowPublicRegistration enables POST /auth/register.
	AllowPublicRegistration bool

	AdminRole string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20, // 1 MiB
		LoginIPMax:              20,
		LoginIPWindow:           5 * time.Minute,
		AllowPublicRegistration: true,
		AdminRole:               "admin",
	}
}

// LoadConfigFromEnv overlays VNIPET_AUTH_* variables onto the defaults.
// Unparseable or non-positive values return a session.ConfigError naming the key.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	bools := []struct {
		key string
		dst *bool
	}{
		{"VNIPET_AUTH_TRUST_PROXY", &cfg.TrustProxy},
		{"VNIPET_AUTH_ALLOW_REGISTRATION", &cfg.AllowPublicRegistration},
	}
	for _, f := range bools {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, session.ConfigError{Key: f.key}
		}
		*f.dst = b
	}

	if v, ok := lookup("VNIPET_AUTH_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, session.ConfigError{Key: "VNIPET_AUTH_MAX_BODY_BYTES"}
		}
		cfg.MaxBodyBytes = n
	}
	if v, ok := lookup("VNIPET_AUTH_LOGIN_IP_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, session.ConfigError{Key: "VNIPET_AUTH_LOGIN_IP_MAX"}
		}
		cfg.LoginIPMax = n
	}
	if v, ok := lookup("VNIPET_AUTH_LOGIN_IP_WINDOW"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, session.ConfigError{Key: "VNIPET_AUTH_LOGIN_IP_WINDOW"}
		}
		cfg.LoginIPWindow = d
	}
	if v, ok := lookup("VNIPET_AUTH_ADMIN_ROLE"); ok {
		cfg.AdminRole = strings.ToLower(v)
	}

	if cfg.MaxBodyBytes < 1024 {
		return Config{}, fmt.Errorf("%w: max body %d bytes is too small", session.ErrConfig, cfg.MaxBodyBytes)
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}
