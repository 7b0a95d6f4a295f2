package authapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

func TestLogin_IssuesPairBoundToDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	u := env.mustRegisterUser(ctx, t, "owner@vnipet.test")

	res := env.mustLogin(ctx, t, "Owner@Vnipet.TEST", deviceA)
	if res.User.ID != u.ID || res.Device.ID != deviceA {
		t.Fatalf("unexpected login result: user=%s device=%s", res.User.ID, res.Device.ID)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	if res.Tokens.ExpiresIn != 15*time.Minute {
		t.Fatalf("ExpiresIn = %v, want 15m", res.Tokens.ExpiresIn)
	}

	claims, verdict := env.svc.Validate(res.Tokens.AccessToken)
	if verdict != session.VerdictValid {
		t.Fatalf("verdict = %v", verdict)
	}
	if claims.UserID != u.ID || claims.DeviceID != deviceA || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	ok, err := env.devices.IsUserAuthorizedOnDevice(ctx, deviceA, u.ID)
	if err != nil || !ok {
		t.Fatalf("IsUserAuthorizedOnDevice = %v, %v", ok, err)
	}
	if !env.audit.has(AuditLoginSuccess) {
		t.Fatalf("expected login audit event")
	}
}

func TestLogin_MintsDeviceIDWhenMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")

	res := env.mustLogin(ctx, t, "owner@vnipet.test", "")
	if len(res.Device.ID) != 26 {
		t.Fatalf("expected minted ULID device id, got %q", res.Device.ID)
	}
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, res.Device.ID); err != nil {
		t.Fatalf("refresh on minted device: %v", err)
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")

	cases := []struct {
		name     string
		email    string
		password string
		deviceID string
		want     error
	}{
		{name: "wrong password", email: "owner@vnipet.test", password: "not the password at all", deviceID: deviceA, want: ErrInvalidCredentials},
		{name: "unknown email", email: "ghost@vnipet.test", password: goodPassword, deviceID: deviceA, want: ErrInvalidCredentials},
		{name: "empty email", email: " ", password: goodPassword, deviceID: deviceA, want: ErrInvalidRequest},
		{name: "empty password", email: "owner@vnipet.test", password: "", deviceID: deviceA, want: ErrInvalidRequest},
		{name: "bad device id", email: "owner@vnipet.test", password: goodPassword, deviceID: "has space", want: ErrInvalidRequest},
	}
	for _, tc := range cases {
		_, err := env.svc.Login(ctx, LoginInput{
			Email:    tc.email,
			Password: tc.password,
			Device:   DeviceInput{DeviceID: tc.deviceID, Info: device.Info{Platform: "android"}},
		})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, LoginInput{Email: "owner@vnipet.test", Password: "wrong wrong wrong", Device: DeviceInput{DeviceID: deviceA}})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}

	_, err := env.svc.Login(ctx, LoginInput{Email: "owner@vnipet.test", Password: goodPassword, Device: DeviceInput{DeviceID: deviceA}})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)
}

func TestLogin_EnforcedAppSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{EnforceAppSignature: true})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")

	_, err := env.svc.Login(ctx, LoginInput{
		Email:    "owner@vnipet.test",
		Password: goodPassword,
		Device:   DeviceInput{DeviceID: deviceA, Info: device.Info{Platform: "android"}, AppSignature: "repackaged"},
	})
	if !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("expected ErrDeviceUnauthorized, got %v", err)
	}

	res, err := env.svc.Login(ctx, LoginInput{
		Email:    "owner@vnipet.test",
		Password: goodPassword,
		Device:   DeviceInput{DeviceID: deviceA, Info: device.Info{Platform: "android"}, AppSignature: "release-sig"},
	})
	if err != nil {
		t.Fatalf("Login with valid signature: %v", err)
	}
	if res.Device.TrustScore != device.TrustVerified || !res.Device.SignatureVerified {
		t.Fatalf("unexpected device: %+v", res.Device)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})

	res, err := env.svc.Register(ctx, RegisterInput{Email: "new@vnipet.test", Password: goodPassword, Device: DeviceInput{DeviceID: deviceA}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.User.Role != "user" || res.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected register result: %+v", res.User)
	}

	if _, err := env.svc.Register(ctx, RegisterInput{Email: "NEW@vnipet.test", Password: goodPassword, Device: DeviceInput{DeviceID: deviceB}}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := env.svc.Register(ctx, RegisterInput{Email: "weak@vnipet.test", Password: "short", Device: DeviceInput{DeviceID: deviceB}}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := env.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: goodPassword, Device: DeviceInput{DeviceID: deviceB}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRefresh_RotatesWithinFamily(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	env.clock.Advance(time.Minute)
	next, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == res.Tokens.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	if next.TokenFamily != res.Tokens.TokenFamily {
		t.Fatalf("family changed: %s -> %s", res.Tokens.TokenFamily, next.TokenFamily)
	}

	old, err := env.issuer.Inspect(ctx, res.Tokens.RefreshToken)
	if err != nil || old == nil {
		t.Fatalf("Inspect old: %v %v", old, err)
	}
	if !old.IsRevoked || old.RevokedReason != session.ReasonRotated {
		t.Fatalf("old token state = revoked:%v reason:%q", old.IsRevoked, old.RevokedReason)
	}

	// A double tap inside the grace period is rejected without punishing anyone.
	env.clock.Advance(5 * time.Second)
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, errReuse) {
		t.Fatalf("expected plain ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.refresh(ctx, next.RefreshToken, deviceA); err != nil {
		t.Fatalf("successor should still refresh: %v", err)
	}
	if got := env.metrics.refreshCount(OutcomeSuccess); got != 2 {
		t.Fatalf("refresh success count = %d, want 2", got)
	}
}

func TestRefresh_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})

	for _, tok := range []string{"", "   ", "not-a-real-token"} {
		if _, err := env.refresh(ctx, tok, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("refresh(%q): err = %v", tok, err)
		}
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	env.clock.Advance(31 * 24 * time.Hour)
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_DeviceMismatchLeavesTokenUsable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceB); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if got := env.metrics.refreshCount(OutcomeMismatch); got != 1 {
		t.Fatalf("mismatch count = %d", got)
	}
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); err != nil {
		t.Fatalf("token should still refresh on its own device: %v", err)
	}
}

func TestRefresh_BlockedDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	n, err := env.svc.BlockDevice(ctx, adminClaims(), deviceA, "chargeback fraud", Client{})
	if err != nil {
		t.Fatalf("BlockDevice: %v", err)
	}
	if n != 1 {
		t.Fatalf("revoked = %d, want 1", n)
	}

	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("refresh on blocked device: err = %v, want ErrDeviceUnauthorized", err)
	}
	// Presented from elsewhere it is a device mismatch like any other token.
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceB); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("refresh from other device: err = %v, want ErrDeviceMismatch", err)
	}

	_, err = env.svc.Login(ctx, LoginInput{Email: "owner@vnipet.test", Password: goodPassword, Device: DeviceInput{DeviceID: deviceA}})
	if !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("login on blocked device: err = %v", err)
	}

	if err := env.svc.UnblockDevice(ctx, adminClaims(), deviceA, Client{}); err != nil {
		t.Fatalf("UnblockDevice: %v", err)
	}
	env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)
	if !env.audit.has(AuditDeviceBlocked) || !env.audit.has(AuditDeviceUnblocked) {
		t.Fatalf("expected block and unblock audit events")
	}
}

func TestRefresh_RevokedDeviceCanLogInAgain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	if _, err := env.svc.RevokeDevice(ctx, adminClaims(), deviceA, Client{}); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("expected ErrDeviceUnauthorized, got %v", err)
	}

	again := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)
	if !again.Device.IsActive {
		t.Fatalf("device should be reactivated by login")
	}

	// Once the device is active again the old token is merely dead.
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("stale token after reactivation: err = %v, want ErrInvalidRefreshToken", err)
	}
	if _, err := env.refresh(ctx, again.Tokens.RefreshToken, deviceA); err != nil {
		t.Fatalf("fresh token after reactivation: %v", err)
	}
}

func TestRefresh_OtherDeviceIsMismatchWhateverTheTokenState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		prepare func(ctx context.Context, t *testing.T, env *testEnv, tok string)
	}{
		{
			name:    "valid",
			prepare: func(context.Context, *testing.T, *testEnv, string) {},
		},
		{
			name: "expired",
			prepare: func(_ context.Context, _ *testing.T, env *testEnv, _ string) {
				env.clock.Advance(31 * 24 * time.Hour)
			},
		},
		{
			name: "logged out",
			prepare: func(ctx context.Context, _ *testing.T, env *testEnv, tok string) {
				env.svc.Logout(ctx, LogoutInput{RefreshToken: tok, DeviceID: deviceA})
			},
		},
		{
			name: "rotated within grace",
			prepare: func(ctx context.Context, t *testing.T, env *testEnv, tok string) {
				if _, err := env.refresh(ctx, tok, deviceA); err != nil {
					t.Fatalf("Refresh: %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			env := newTestEnv(t, device.RegistryConfig{})
			env.mustRegisterUser(ctx, t, "owner@vnipet.test")
			res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

			tc.prepare(ctx, t, env, res.Tokens.RefreshToken)

			if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceB); !errors.Is(err, ErrDeviceMismatch) {
				t.Fatalf("err = %v, want ErrDeviceMismatch", err)
			}
			if got := env.metrics.refreshCount(OutcomeMismatch); got != 1 {
				t.Fatalf("mismatch count = %d, want 1", got)
			}
		})
	}
}

func TestRefresh_ReplayFromOtherDeviceStillRevokesFamily(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	next, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	env.clock.Advance(time.Minute)
	_, err = env.refresh(ctx, res.Tokens.RefreshToken, deviceB)
	if !errors.Is(err, ErrDeviceMismatch) || !errors.Is(err, errReuseMismatch) {
		t.Fatalf("err = %v, want reuse-flavoured ErrDeviceMismatch", err)
	}
	if _, err := env.refresh(ctx, next.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("successor should be revoked with its family: %v", err)
	}
	if got := env.metrics.refreshCount(OutcomeReuse); got != 1 {
		t.Fatalf("reuse count = %d, want 1", got)
	}
}

func TestRefresh_UnlinkedUserIsUnauthorized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	u := env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	if err := env.devices.UnlinkUser(ctx, env.clock.Now(), deviceA, u.ID); err != nil {
		t.Fatalf("UnlinkUser: %v", err)
	}
	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("expected ErrDeviceUnauthorized, got %v", err)
	}
}

func TestRefresh_SharedDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	alice := env.mustRegisterUser(ctx, t, "alice@vnipet.test")
	bob := env.mustRegisterUser(ctx, t, "bob@vnipet.test")

	a := env.mustLogin(ctx, t, "alice@vnipet.test", deviceA)
	b := env.mustLogin(ctx, t, "bob@vnipet.test", deviceA)

	env.svc.Logout(ctx, LogoutInput{RefreshToken: a.Tokens.RefreshToken, DeviceID: deviceA})

	if _, err := env.refresh(ctx, b.Tokens.RefreshToken, deviceA); err != nil {
		t.Fatalf("bob's session should survive alice's logout: %v", err)
	}
	if _, err := env.refresh(ctx, a.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("alice's token should be dead: %v", err)
	}

	okA, _ := env.devices.IsUserAuthorizedOnDevice(ctx, deviceA, alice.ID)
	okB, _ := env.devices.IsUserAuthorizedOnDevice(ctx, deviceA, bob.ID)
	if okA || !okB {
		t.Fatalf("authorization after logout: alice=%v bob=%v", okA, okB)
	}
}

func TestRefresh_DeletedUserRevokesToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	u := env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	env.users.Delete(u.ID)

	if _, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	rec, err := env.issuer.Inspect(ctx, res.Tokens.RefreshToken)
	if err != nil || rec == nil {
		t.Fatalf("Inspect: %v %v", rec, err)
	}
	if !rec.IsRevoked || rec.RevokedReason != session.ReasonUserNotFound {
		t.Fatalf("token state = revoked:%v reason:%q", rec.IsRevoked, rec.RevokedReason)
	}
}

func TestRefresh_ReplayAfterGraceRevokesFamilyAndPenalisesDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	before, err := env.devices.Get(ctx, deviceA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	next, err := env.refresh(ctx, res.Tokens.RefreshToken, deviceA)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	env.clock.Advance(time.Minute)
	_, err = env.refresh(ctx, res.Tokens.RefreshToken, deviceA)
	if !errors.Is(err, ErrInvalidRefreshToken) || !errors.Is(err, errReuse) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}

	if _, err := env.refresh(ctx, next.RefreshToken, deviceA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("successor should be revoked with its family: %v", err)
	}

	after, err := env.devices.Get(ctx, deviceA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := before.TrustScore + device.TrustPenaltyReuse
	if want < device.TrustMin {
		want = device.TrustMin
	}
	if after.TrustScore != want {
		t.Fatalf("trust = %d, want %d", after.TrustScore, want)
	}
	if got := env.metrics.refreshCount(OutcomeReuse); got != 1 {
		t.Fatalf("reuse count = %d, want 1", got)
	}
	if !env.audit.has(AuditRefreshReuse) {
		t.Fatalf("expected reuse audit event")
	}
}

func TestLogout_NeverFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	env.svc.Logout(ctx, LogoutInput{})
	env.svc.Logout(ctx, LogoutInput{RefreshToken: "garbage", DeviceID: deviceA})

	// A mismatched device id still logs out the token's own device.
	env.svc.Logout(ctx, LogoutInput{RefreshToken: res.Tokens.RefreshToken, DeviceID: deviceB})
	rec, err := env.issuer.Inspect(ctx, res.Tokens.RefreshToken)
	if err != nil || rec == nil {
		t.Fatalf("Inspect: %v %v", rec, err)
	}
	if rec.RevokedReason != session.ReasonLogout {
		t.Fatalf("reason = %q, want logout", rec.RevokedReason)
	}

	// Logging out twice is harmless.
	env.svc.Logout(ctx, LogoutInput{RefreshToken: res.Tokens.RefreshToken, DeviceID: deviceA})
}

func TestLogoutAll_RevokesEveryDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	u := env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	onA := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)
	onB := env.mustLogin(ctx, t, "owner@vnipet.test", deviceB)

	recs, err := env.svc.Sessions(ctx, u.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("sessions = %d, want 2", len(recs))
	}

	claims, verdict := env.svc.Validate(onA.Tokens.AccessToken)
	if verdict != session.VerdictValid {
		t.Fatalf("verdict = %v", verdict)
	}
	n, err := env.svc.LogoutAll(ctx, claims, Client{})
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}

	for _, tc := range []struct {
		tok, dev string
	}{{onA.Tokens.RefreshToken, deviceA}, {onB.Tokens.RefreshToken, deviceB}} {
		if _, err := env.refresh(ctx, tc.tok, tc.dev); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("refresh after logout_all on %s: %v", tc.dev, err)
		}
	}
}

func TestValidate_Verdicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	res := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	if _, v := env.svc.Validate("v4.public.garbage"); v != session.VerdictInvalid {
		t.Fatalf("garbage verdict = %v", v)
	}
	if _, v := env.svc.Validate(res.Tokens.RefreshToken); v != session.VerdictInvalid {
		t.Fatalf("refresh token as access token verdict = %v", v)
	}

	env.clock.Advance(15 * time.Minute)
	if _, v := env.svc.Validate(res.Tokens.AccessToken); v != session.VerdictExpired {
		t.Fatalf("expired verdict = %v", v)
	}
}

func TestConcurrentRefreshAndLoginOnOneDevice(t *testing.T) {
	t.Parallel()

	const (
		refreshers = 4 // below RotateAfterUses so the family survives
		logins     = 4
	)

	ctx := context.Background()
	env := newTestEnv(t, device.RegistryConfig{})
	env.mustRegisterUser(ctx, t, "owner@vnipet.test")
	first := env.mustLogin(ctx, t, "owner@vnipet.test", deviceA)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rotated  []session.TokenPair
		loggedIn []LoginResult
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < refreshers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			pair, err := env.refresh(ctx, first.Tokens.RefreshToken, deviceA)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rotated = append(rotated, pair)
			case !errors.Is(err, ErrInvalidRefreshToken):
				failures = append(failures, err)
			}
		}()
	}
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := env.svc.Login(ctx, LoginInput{
				Email:    "owner@vnipet.test",
				Password: goodPassword,
				Device:   DeviceInput{DeviceID: deviceA, Info: device.Info{Platform: "android"}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			loggedIn = append(loggedIn, res)
		}()
	}
	close(start)
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(rotated) == 0 {
		t.Fatalf("expected at least one refresh to succeed")
	}
	if len(loggedIn) != logins {
		t.Fatalf("logins = %d, want %d", len(loggedIn), logins)
	}

	links, err := env.devices.Links(ctx, deviceA)
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 1 || !links[0].IsActive {
		t.Fatalf("links = %+v, want one active link", links)
	}

	// Every concurrent successor stays in the original family and dies with it.
	family := first.Tokens.TokenFamily
	for _, p := range rotated {
		if p.TokenFamily != family {
			t.Fatalf("successor family = %q, want %q", p.TokenFamily, family)
		}
	}
	if _, err := env.issuer.RevokeFamily(ctx, env.clock.Now(), family, session.ReasonReuseDetected); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	for _, p := range rotated {
		id, err := env.issuer.VerifyRefreshToken(ctx, p.RefreshToken, env.clock.Now(), false)
		if err != nil || id != nil {
			t.Fatalf("successor still valid after family revocation: id=%+v err=%v", id, err)
		}
	}
	// Separate logins are separate families.
	if id, err := env.issuer.VerifyRefreshToken(ctx, loggedIn[0].Tokens.RefreshToken, env.clock.Now(), false); err != nil || id == nil {
		t.Fatalf("login token should survive: id=%+v err=%v", id, err)
	}
}
