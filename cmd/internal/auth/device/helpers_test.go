package device

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/internal/auth/session"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixedVerifier map[string]string // platform -> accepted signature

func (f fixedVerifier) Verify(platform, sig string) bool {
	want, ok := f[platform]
	return ok && want == sig
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, *session.InMemoryStore) {
	t.Helper()

	tokens := session.NewInMemoryStore()
	store := NewInMemoryStore(tokens)
	return NewRegistry(discardLogger(), store, fixedVerifier{"android": "good-sig"}, cfg), tokens
}

func seedToken(ctx context.Context, t *testing.T, tokens *session.InMemoryStore, hash, userID, deviceID string) {
	t.Helper()

	_, err := tokens.Create(ctx, session.RefreshRecord{
		TokenHash:   hash,
		UserID:      userID,
		DeviceID:    deviceID,
		TokenFamily: "fam-" + hash,
		CreatedAt:   testNow,
		ExpiresAt:   testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
}
