package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/password"
)

// Authenticator verifies credentials against the user store and applies
// the failed-login lockout.
type Authenticator struct {
	log     *slog.Logger
	users   Store
	lockout LockoutStore
	pw      password.Config
	policy  LockoutPolicy
}

// NewAuthenticator wires an authenticator. A nil lockout store disables lockout.
func NewAuthenticator(log *slog.Logger, users Store, lockout LockoutStore, pw password.Config, policy LockoutPolicy) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	if policy.FailedThreshold <= 0 {
		policy.FailedThreshold = DefaultLockoutPolicy().FailedThreshold
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = DefaultLockoutPolicy().LockoutDuration
	}
	return &Authenticator{log: log, users: users, lockout: lockout, pw: pw, policy: policy}
}

// Register hashes the password and creates the account.
// Policy violations surface as password.ErrPasswordTooShort and friends.
func (a *Authenticator) Register(ctx context.Context, now time.Time, email, plain, role string) (User, error) {
	hash, err := a.pw.Hash(plain)
	if err != nil {
		if password.IsPolicyViolation(err) {
			return User{}, err
		}
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return a.users.CreateUser(ctx, CreateUserInput{Email: email, Role: role, PasswordHash: hash, Now: now})
}

// IsLocked reports whether logins for email are currently refused.
func (a *Authenticator) IsLocked(ctx context.Context, now time.Time, email string) (bool, error) {
	if a.lockout == nil {
		return false, nil
	}
	st, err := a.lockout.Get(ctx, NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	return st.Locked(now), nil
}

// ComparePassword reports whether plain matches the user's stored hash.
// A malformed stored hash counts as a mismatch and is logged.
func (a *Authenticator) ComparePassword(ctx context.Context, u User, plain string) bool {
	ok, err := a.pw.Verify(u.PasswordHash, plain)
	if err != nil {
		a.log.ErrorContext(ctx, "identity.password.bad_hash", "user_id", u.ID, "err", err)
		return false
	}
	return ok
}

// Authenticate resolves email + password to a user.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials after
// the same Argon2id work, and both count towards the lockout. A locked account
// returns ErrAccountLocked without checking the password.
func (a *Authenticator) Authenticate(ctx context.Context, now time.Time, email, plain string) (User, error) {
	key := NormalizeEmail(email)

	locked, err := a.IsLocked(ctx, now, key)
	if err != nil {
		return User{}, fmt.Errorf("lockout lookup: %w", err)
	}
	if locked {
		return User{}, ErrAccountLocked
	}

	u, err := a.users.GetUserByEmail(ctx, key)
	switch {
	case IsNotFound(err):
		a.pw.VerifyDummy(plain)
		return User{}, a.fail(ctx, now, key)
	case err != nil:
		return User{}, err
	}

	if !a.ComparePassword(ctx, u, plain) {
		return User{}, a.fail(ctx, now, key)
	}

	if a.lockout != nil {
		if err := a.lockout.Clear(ctx, key); err != nil {
			a.log.WarnContext(ctx, "identity.lockout.clear_fail", "user_id", u.ID, "err", err)
		}
	}

	if a.pw.NeedsRehash(u.PasswordHash) {
		if hash, err := a.pw.Hash(plain); err == nil {
			if err := a.users.UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
				a.log.WarnContext(ctx, "identity.password.rehash_fail", "user_id", u.ID, "err", err)
			} else {
				u.PasswordHash = hash
			}
		}
	}
	return u, nil
}

// LookupUser loads a user by id. Missing users return an error matching ErrNotFound.
func (a *Authenticator) LookupUser(ctx context.Context, id string) (User, error) {
	return a.users.GetUserByID(ctx, id)
}

func (a *Authenticator) fail(ctx context.Context, now time.Time, key string) error {
	if a.lockout == nil {
		return ErrInvalidCredentials
	}
	st, err := a.lockout.RecordFailure(ctx, key, now, a.policy.FailedThreshold, a.policy.LockoutDuration)
	if err != nil {
		// Credentials were wrong either way; do not turn that into a 500.
		a.log.WarnContext(ctx, "identity.lockout.record_fail", "err", err)
		return ErrInvalidCredentials
	}
	if st.Locked(now) {
		a.log.WarnContext(ctx, "identity.lockout.locked", "failed_count", st.FailedCount, "locked_until", st.LockedUntil)
	}
	return ErrInvalidCredentials
}

