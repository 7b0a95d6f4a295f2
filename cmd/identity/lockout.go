package identity

import (
	"context"
	"sync"
	"time"
)

// LockoutState is the failed-login record for one account key.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the state blocks logins at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutPolicy controls when repeated failures lock an account.
type LockoutPolicy struct {
	FailedThreshold int
	LockoutDuration time.Duration
}

// DefaultLockoutPolicy locks for 15 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{FailedThreshold: 5, LockoutDuration: 15 * time.Minute}
}

// LockoutStore persists failed-login counters.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}

// InMemoryLockoutStore is the LockoutStore used without Redis.
type InMemoryLockoutStore struct {
	mu    sync.Mutex
	state map[string]LockoutState
}

func NewInMemoryLockoutStore() *InMemoryLockoutStore {
	return &InMemoryLockoutStore{state: make(map[string]LockoutState)}
}

func (s *InMemoryLockoutStore) Get(ctx context.Context, key string) (LockoutState, error) {
	if err := ctx.Err(); err != nil {
		return LockoutState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key], nil
}

func (s *InMemoryLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error) {
	if err := ctx.Err(); err != nil {
		return LockoutState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[key]
	// An expired lock starts a fresh count, like the Redis key TTL would.
	if st.LockedUntil != nil && !now.Before(*st.LockedUntil) {
		st = LockoutState{}
	}
	st.FailedCount++
	if st.FailedCount >= threshold {
		until := now.Add(window).UTC()
		st.LockedUntil = &until
	}
	s.state[key] = st
	return st, nil
}

func (s *InMemoryLockoutStore) Clear(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.state, key)
	s.mu.Unlock()
	return nil
}
