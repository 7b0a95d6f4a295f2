package session

import (
	"context"
	"testing"
	"time"
)

func seedSweepFixtures(ctx context.Context, t *testing.T, store *InMemoryStore, now time.Time) {
	t.Helper()

	recs := []RefreshRecord{
		{TokenHash: "active", UserID: "u1", DeviceID: "d1", TokenFamily: "f1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenHash: "expired", UserID: "u1", DeviceID: "d1", TokenFamily: "f1", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{TokenHash: "recently-revoked", UserID: "u1", DeviceID: "d1", TokenFamily: "f2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenHash: "long-revoked", UserID: "u1", DeviceID: "d1", TokenFamily: "f3", CreatedAt: now.Add(-60 * 24 * time.Hour), ExpiresAt: now.Add(time.Hour)},
	}
	for _, r := range recs {
		if _, err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.TokenHash, err)
		}
	}
	if _, err := store.Revoke(ctx, now.Add(-time.Hour), "recently-revoked", ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Revoke(ctx, now.Add(-31*24*time.Hour), "long-revoked", ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
}

func TestCleanupExpired_DeletesOnlyStaleRowsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()
	seedSweepFixtures(ctx, t, store, now)

	n, err := store.CleanupExpired(ctx, now, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}

	n, err = store.CleanupExpired(ctx, now, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired (second): %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep must delete nothing, got %d", n)
	}

	for _, h := range []string{"active", "recently-revoked"} {
		if _, err := store.FindByToken(ctx, h); err != nil {
			t.Fatalf("%s must survive: %v", h, err)
		}
	}
}

func TestSweeper_RunOnceReportsDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()
	seedSweepFixtures(ctx, t, store, now)

	var observed []int64
	cfg := DefaultConfig()
	sw := NewSweeper(discardLogger(), store, cfg,
		WithSweepClock(func() time.Time { return now }),
		WithSweepObserver(func(n int64) { observed = append(observed, n) }),
	)

	if n, err := sw.RunOnce(ctx); err != nil || n != 2 {
		t.Fatalf("RunOnce: n=%d err=%v", n, err)
	}
	if n, err := sw.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("RunOnce (second): n=%d err=%v", n, err)
	}
	if len(observed) != 2 || observed[0] != 2 || observed[1] != 0 {
		t.Fatalf("observer saw %v", observed)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond

	swept := make(chan int64, 16)
	sw := NewSweeper(discardLogger(), NewInMemoryStore(), cfg,
		WithSweepObserver(func(n int64) {
			select {
			case swept <- n:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-swept:
		case <-time.After(2 * time.Second):
			t.Fatalf("sweeper did not tick")
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestInMemoryStore_RecordUsageAndNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	if _, err := store.RecordUsage(ctx, now, "missing", ""); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := store.Create(ctx, RefreshRecord{TokenHash: "h", UserID: "u", DeviceID: "d", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, RefreshRecord{TokenHash: "h", UserID: "u", DeviceID: "d", ExpiresAt: now.Add(time.Hour)}); err != ErrTokenConflict {
		t.Fatalf("expected ErrTokenConflict on duplicate hash, got %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.RecordUsage(ctx, now, "h", "198.51.100.1")
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
		if got != want {
			t.Fatalf("usage = %d, want %d", got, want)
		}
	}
}
