package authapi

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/identity"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/device"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/password"
	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/token"
)

const (
	goodPassword = "biscuit chases the mailman"
	deviceA      = "android-install-000A"
	deviceB      = "android-install-000B"
)

var startOfDay = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMetrics struct {
	mu      sync.Mutex
	login   map[string]int
	refresh map[string]int
	logout  map[string]int
	revoked map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		login:   map[string]int{},
		refresh: map[string]int{},
		logout:  map[string]int{},
		revoked: map[string]int64{},
	}
}

func (m *recordingMetrics) Login(o string)   { m.inc(m.login, o) }
func (m *recordingMetrics) Refresh(o string) { m.inc(m.refresh, o) }
func (m *recordingMetrics) Logout(o string)  { m.inc(m.logout, o) }

func (m *recordingMetrics) TokensRevoked(reason string, n int64) {
	m.mu.Lock()
	m.revoked[reason] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) inc(dst map[string]int, o string) {
	m.mu.Lock()
	dst[o]++
	m.mu.Unlock()
}

func (m *recordingMetrics) refreshCount(o string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh[o]
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *recordingAuditor) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range a.events {
		if ev.Action == action {
			return true
		}
	}
	return false
}

type signatureAllowList map[string]string

func (s signatureAllowList) Verify(platform, sig string) bool {
	want, ok := s[platform]
	return ok && sig == want
}

type testEnv struct {
	svc     *Service
	issuer  *session.Issuer
	tokens  *session.InMemoryStore
	devices *device.Registry
	users   *identity.InMemoryStore
	auth    *identity.Authenticator
	clock   *testClock
	metrics *recordingMetrics
	audit   *recordingAuditor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, regCfg device.RegistryConfig) *testEnv {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	access, err := session.NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	log := discardLogger()
	tokens := session.NewInMemoryStore()
	issuer := session.NewIssuer(cfg, tokens, access, token.NewHasher([]byte("api-test-hmac-key-0123456789abc!")))
	devices := device.NewRegistry(log, device.NewInMemoryStore(tokens), signatureAllowList{"android": "release-sig"}, regCfg)
	users := identity.NewInMemoryStore()
	auth := identity.NewAuthenticator(log, users, identity.NewInMemoryLockoutStore(), fastPasswordConfig(), identity.DefaultLockoutPolicy())

	env := &testEnv{
		issuer:  issuer,
		tokens:  tokens,
		devices: devices,
		users:   users,
		auth:    auth,
		clock:   &testClock{now: startOfDay},
		metrics: newRecordingMetrics(),
		audit:   &recordingAuditor{},
	}
	env.svc = NewService(log, issuer, devices, auth,
		WithMetrics(env.metrics),
		WithAuditor(env.audit),
		WithClock(env.clock.Now),
	)
	return env
}

func (e *testEnv) mustRegisterUser(ctx context.Context, t *testing.T, email string) identity.User {
	t.Helper()

	u, err := e.auth.Register(ctx, e.clock.Now(), email, goodPassword, identity.RoleUser)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (e *testEnv) mustLogin(ctx context.Context, t *testing.T, email, deviceID string) LoginResult {
	t.Helper()

	res, err := e.svc.Login(ctx, LoginInput{
		Email:    email,
		Password: goodPassword,
		Device:   DeviceInput{DeviceID: deviceID, Info: device.Info{Platform: "android", AppVersion: "3.1.0"}},
		Client:   Client{IP: "203.0.113.7", UserAgent: "vnipet-android/3.1.0"},
	})
	if err != nil {
		t.Fatalf("Login(%s on %s): %v", email, deviceID, err)
	}
	return res
}

func (e *testEnv) refresh(ctx context.Context, tok, deviceID string) (session.TokenPair, error) {
	return e.svc.Refresh(ctx, RefreshInput{RefreshToken: tok, DeviceID: deviceID, Client: Client{IP: "203.0.113.7"}})
}

func adminClaims() session.AccessClaims {
	return session.AccessClaims{UserID: "01J0ADMIN000000000000000A1", Role: identity.RoleAdmin, DeviceID: "admin-console"}
}
