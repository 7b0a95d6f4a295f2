package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps devices in process memory. It is used when no database
// is configured and in tests.
type InMemoryStore struct {
	mu      sync.Mutex
	devices map[string]*Device
	links   map[string]map[string]*Link // device_id -> user_id -> link
	tokens  TokenRevoker
}

// NewInMemoryStore builds a store that cascades Disable into tokens (may be nil).
func NewInMemoryStore(tokens TokenRevoker) *InMemoryStore {
	return &InMemoryStore{
		devices: make(map[string]*Device),
		links:   make(map[string]map[string]*Link),
		tokens:  tokens,
	}
}

func (s *InMemoryStore) CreateIfAbsent(ctx context.Context, d Device) (Device, bool, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.devices[d.ID]; ok {
		return *existing, false, nil
	}
	cp := d
	s.devices[d.ID] = &cp
	return d, true, nil
}

func (s *InMemoryStore) Get(ctx context.Context, deviceID string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return *d, nil
}

func (s *InMemoryStore) Touch(ctx context.Context, now time.Time, deviceID string, info Info) error {
	return s.mutate(ctx, deviceID, func(d *Device) {
		at := now
		d.Info = info
		d.LastSeenAt = &at
		d.UpdatedAt = now
	})
}

func (s *InMemoryStore) UpsertLink(ctx context.Context, now time.Time, deviceID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.LegacyUserID == userID {
		d.LegacyUserID = ""
	}

	byUser := s.links[deviceID]
	if byUser == nil {
		byUser = make(map[string]*Link)
		s.links[deviceID] = byUser
	}
	at := now
	l, ok := byUser[userID]
	if !ok {
		byUser[userID] = &Link{DeviceID: deviceID, UserID: userID, IsActive: true, LinkedAt: now, LastLoginAt: &at}
		return nil
	}
	l.IsActive = true
	l.LastLoginAt = &at
	l.UnlinkedAt = nil
	return nil
}

func (s *InMemoryStore) DeactivateLink(ctx context.Context, now time.Time, deviceID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return false, ErrDeviceNotFound
	}

	changed := false
	at := now
	if d.LegacyUserID == userID {
		d.LegacyUserID = ""
		if s.links[deviceID] == nil {
			s.links[deviceID] = make(map[string]*Link)
		}
		if _, ok := s.links[deviceID][userID]; !ok {
			s.links[deviceID][userID] = &Link{DeviceID: deviceID, UserID: userID, LinkedAt: d.CreatedAt, UnlinkedAt: &at}
		}
		changed = true
	}
	if l, ok := s.links[deviceID][userID]; ok && l.IsActive {
		l.IsActive = false
		l.UnlinkedAt = &at
		changed = true
	}
	return changed, nil
}

func (s *InMemoryStore) Links(ctx context.Context, deviceID string) ([]Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Link, 0, len(s.links[deviceID]))
	for _, l := range s.links[deviceID] {
		out = append(out, *l)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LinkedAt.Before(out[j].LinkedAt) })
	return out, nil
}

func (s *InMemoryStore) IsAuthorized(ctx context.Context, deviceID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok || !d.IsActive || d.IsBlocked {
		return false, nil
	}
	if d.LegacyUserID != "" && d.LegacyUserID == userID {
		return true, nil
	}
	l, ok := s.links[deviceID][userID]
	return ok && l.IsActive, nil
}

// Disable revokes tokens first and only flips the device once that succeeded,
// so a failed cascade leaves the device untouched.
func (s *InMemoryStore) Disable(ctx context.Context, now time.Time, deviceID string, blocked bool, reason, tokenReason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return 0, ErrDeviceNotFound
	}

	var revoked int64
	if s.tokens != nil {
		n, err := s.tokens.RevokeAllForDevice(ctx, now, deviceID, tokenReason)
		if err != nil {
			return 0, err
		}
		revoked = n
	}

	d.IsActive = false
	if blocked {
		d.IsBlocked = true
		d.BlockedReason = reason
	}
	d.UpdatedAt = now
	return revoked, nil
}

func (s *InMemoryStore) Activate(ctx context.Context, now time.Time, deviceID string) error {
	return s.mutate(ctx, deviceID, func(d *Device) {
		d.IsActive = true
		d.IsBlocked = false
		d.BlockedReason = ""
		d.UpdatedAt = now
	})
}

func (s *InMemoryStore) AdjustTrust(ctx context.Context, now time.Time, deviceID string, delta int) (int, error) {
	var score int
	err := s.mutate(ctx, deviceID, func(d *Device) {
		d.TrustScore = clampTrust(d.TrustScore + delta)
		d.UpdatedAt = now
		score = d.TrustScore
	})
	return score, err
}

func (s *InMemoryStore) mutate(ctx context.Context, deviceID string, fn func(*Device)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	fn(d)
	return nil
}
