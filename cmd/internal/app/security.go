package app

import (
	"errors"
	"fmt"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/security/token"
)

// TokenHasher builds the refresh token hasher and enforces the HMAC policy.
//
// Startup fails instead of falling back to plain SHA-256 when
// VNIPET_REQUIRE_TOKEN_HMAC=true.
func TokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: VNIPET_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}
