package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/password"
)

var authNow = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

const goodPassword = "biscuit chases the mailman"

func fastPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *InMemoryStore) {
	t.Helper()

	users := NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthenticator(log, users, NewInMemoryLockoutStore(), fastPasswordConfig(), DefaultLockoutPolicy()), users
}

func TestAuthenticate_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, _ := newTestAuthenticator(t)

	reg, err := a.Register(ctx, authNow, "Owner@Vnipet.test", goodPassword, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Role != RoleUser || len(reg.ID) != 26 {
		t.Fatalf("unexpected user: %+v", reg)
	}

	u, err := a.Authenticate(ctx, authNow, "  owner@vnipet.TEST ", goodPassword)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != reg.ID {
		t.Fatalf("id mismatch")
	}

	if _, err := a.LookupUser(ctx, reg.ID); err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
}

func TestAuthenticate_UnknownAndWrongAreIndistinguishable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, _ := newTestAuthenticator(t)
	if _, err := a.Register(ctx, authNow, "cat@vnipet.test", goodPassword, RoleUser); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, errWrong := a.Authenticate(ctx, authNow, "cat@vnipet.test", "not the password at all")
	_, errUnknown := a.Authenticate(ctx, authNow, "nobody@vnipet.test", goodPassword)
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("wrong=%v unknown=%v", errWrong, errUnknown)
	}
}

func TestAuthenticate_LocksAfterThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, _ := newTestAuthenticator(t)
	if _, err := a.Register(ctx, authNow, "dog@vnipet.test", goodPassword, RoleUser); err != nil {
		t.Fatalf("Register: %v", err)
	}

	policy := DefaultLockoutPolicy()
	for i := 0; i < policy.FailedThreshold; i++ {
		if _, err := a.Authenticate(ctx, authNow, "dog@vnipet.test", "wrong-password-xyz"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	if _, err := a.Authenticate(ctx, authNow.Add(time.Minute), "dog@vnipet.test", goodPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if locked, _ := a.IsLocked(ctx, authNow.Add(time.Minute), "DOG@vnipet.test"); !locked {
		t.Fatalf("IsLocked should be true")
	}

	after := authNow.Add(policy.LockoutDuration + time.Second)
	if _, err := a.Authenticate(ctx, after, "dog@vnipet.test", goodPassword); err != nil {
		t.Fatalf("login after lockout window: %v", err)
	}
	if locked, _ := a.IsLocked(ctx, after, "dog@vnipet.test"); locked {
		t.Fatalf("successful login must clear the lockout")
	}
}

func TestAuthenticate_RehashesOutdatedHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, users := newTestAuthenticator(t)

	old := fastPasswordConfig()
	old.Params.Iterations = 2
	hash, err := old.Hash(goodPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u, err := users.CreateUser(ctx, CreateUserInput{Email: "old@vnipet.test", PasswordHash: hash, Now: authNow})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := a.Authenticate(ctx, authNow, "old@vnipet.test", goodPassword); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	got, _ := users.GetUserByID(ctx, u.ID)
	if got.PasswordHash == hash {
		t.Fatalf("hash was not upgraded")
	}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, _ := newTestAuthenticator(t)

	if _, err := a.Register(ctx, authNow, "short@vnipet.test", "abc", RoleUser); !password.IsPolicyViolation(err) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if _, err := a.Register(ctx, authNow, "not-an-email", goodPassword, RoleUser); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := a.Register(ctx, authNow, "dup@vnipet.test", goodPassword, RoleUser); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := a.Register(ctx, authNow, "DUP@vnipet.test", goodPassword, RoleUser); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInMemoryStore_DeleteLeavesLookupsNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()
	u, err := s.CreateUser(ctx, CreateUserInput{Email: "gone@vnipet.test", PasswordHash: "x", Now: authNow})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	s.Delete(u.ID)

	if _, err := s.GetUserByID(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("GetUserByID: %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "gone@vnipet.test"); !IsNotFound(err) {
		t.Fatalf("GetUserByEmail: %v", err)
	}
}

func TestNormalizeRole(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": RoleUser, "ADMIN": RoleAdmin, " partner ": RolePartner, "root": RoleUser} {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q)=%q want %q", in, got, want)
		}
	}
}
