package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the Store used when no database is configured and in tests.
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshRecord // token_hash -> record
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]*RefreshRecord)}
}

func (s *InMemoryStore) Create(ctx context.Context, rec RefreshRecord) (RefreshRecord, error) {
	if err := ctx.Err(); err != nil {
		return RefreshRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[rec.TokenHash]; ok {
		return RefreshRecord{}, ErrTokenConflict
	}
	rec.UsageCount = 0
	rec.IsRevoked = false
	rec.RevokedAt = nil
	rec.RevokedReason = ""
	cp := rec
	s.tokens[rec.TokenHash] = &cp
	return rec, nil
}

func (s *InMemoryStore) FindByToken(ctx context.Context, tokenHash string) (RefreshRecord, error) {
	if err := ctx.Err(); err != nil {
		return RefreshRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenHash]
	if !ok {
		return RefreshRecord{}, ErrTokenNotFound
	}
	return *rec, nil
}

func (s *InMemoryStore) Revoke(ctx context.Context, now time.Time, tokenHash, reason string) (int64, error) {
	return s.revokeMatching(ctx, now, reason, func(r *RefreshRecord) bool { return r.TokenHash == tokenHash })
}

func (s *InMemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return s.revokeMatching(ctx, now, reason, func(r *RefreshRecord) bool { return r.UserID == userID })
}

func (s *InMemoryStore) RevokeAllForDevice(ctx context.Context, now time.Time, deviceID, reason string) (int64, error) {
	return s.revokeMatching(ctx, now, reason, func(r *RefreshRecord) bool { return r.DeviceID == deviceID })
}

func (s *InMemoryStore) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return s.revokeMatching(ctx, now, reason, func(r *RefreshRecord) bool { return r.TokenFamily == family })
}

func (s *InMemoryStore) revokeMatching(ctx context.Context, now time.Time, reason string, match func(*RefreshRecord) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.tokens {
		if rec.IsRevoked || !match(rec) {
			continue
		}
		at := now
		rec.IsRevoked = true
		rec.RevokedAt = &at
		rec.RevokedReason = reason
		n++
	}
	return n, nil
}

func (s *InMemoryStore) RecordUsage(ctx context.Context, now time.Time, tokenHash, ip string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenHash]
	if !ok {
		return 0, ErrTokenNotFound
	}
	at := now
	rec.UsageCount++
	rec.LastUsedAt = &at
	if ip != "" {
		rec.LastUsedIP = ip
	}
	return rec.UsageCount, nil
}

func (s *InMemoryStore) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, rec := range s.tokens {
		expired := rec.ExpiresAt.Before(now)
		stale := rec.IsRevoked && rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff)
		if expired || stale {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListActiveForUser(ctx context.Context, now time.Time, userID string) ([]RefreshRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]RefreshRecord, 0, 4)
	for _, rec := range s.tokens {
		if rec.UserID == userID && rec.IsValid(now) {
			out = append(out, *rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
