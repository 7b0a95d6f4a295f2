package authapi

import (
	"errors"
	"testing"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("VNIPET_AUTH_TRUST_PROXY", "true")
	t.Setenv("VNIPET_AUTH_ALLOW_REGISTRATION", "false")
	t.Setenv("VNIPET_AUTH_LOGIN_IP_MAX", "3")
	t.Setenv("VNIPET_AUTH_LOGIN_IP_WINDOW", "90s")
	t.Setenv("VNIPET_AUTH_ADMIN_ROLE", "Staff")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.TrustProxy || cfg.AllowPublicRegistration || cfg.LoginIPMax != 3 || cfg.LoginIPWindow != 90*time.Second || cfg.AdminRole != "staff" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"VNIPET_AUTH_TRUST_PROXY", "maybe"},
		{"VNIPET_AUTH_MAX_BODY_BYTES", "-1"},
		{"VNIPET_AUTH_MAX_BODY_BYTES", "10"},
		{"VNIPET_AUTH_LOGIN_IP_MAX", "zero"},
		{"VNIPET_AUTH_LOGIN_IP_WINDOW", "5"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, session.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
