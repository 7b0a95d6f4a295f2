package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/token"
)

var testSubject = Subject{UserID: "01J0USER0000000000000000U1", Role: "user", Email: "owner@vnipet.test"}

func mustTestConfigAndTokens(t *testing.T) (Config, AccessTokenManager) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return cfg, tokens
}

func newTestIssuer(t *testing.T, mutate func(*Config)) (*Issuer, *InMemoryStore) {
	t.Helper()

	cfg, _ := mustTestConfigAndTokens(t)
	if mutate != nil {
		mutate(&cfg)
	}
	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	store := NewInMemoryStore()
	return NewIssuer(cfg, store, tokens, newTestHasher()), store
}

func mustIssuePair(ctx context.Context, t *testing.T, iss *Issuer, now time.Time, deviceID string) TokenPair {
	t.Helper()

	pair, err := iss.IssueTokenPair(ctx, now, testSubject, deviceID, DeviceInfo{Platform: "ios", AppVersion: "2.4.0"})
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	return pair
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher() token.Hasher {
	return token.NewHasher([]byte("test-hmac-key-0123456789abcdef!!"))
}
