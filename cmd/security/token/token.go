package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var holding the token HMAC secret.
	// #nosec G101 -- environment variable name, not a credential.
	HMACEnvKey = "VNIPET_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest key accepted in enforced mode.
	MinHMACKeyBytes = 32

	minEntropyBytes = 16
)

// Hasher turns plaintext tokens into storage digests.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher using HMAC-SHA256 with key, or SHA-256 when key is empty.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv reads VNIPET_TOKEN_HMAC_KEY. When require is true a missing or
// short key is an error; otherwise a missing key falls back to SHA-256.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "" && require:
		return Hasher{}, ErrHMACKeyMissing
	case raw == "":
		return Hasher{}, nil
	case require && len(raw) < MinHMACKeyBytes:
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether the hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest stored for s.
func (h Hasher) Hash(s string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, h.key)
}

// Equal compares a plaintext token against a stored digest in constant time.
func (h Hasher) Equal(plain, digestHex string) bool {
	got := h.Hash(plain)
	if len(got) != len(digestHex) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digestHex)) == 1
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// NewOpaque returns nBytes of crypto/rand entropy as unpadded base64url.
// Anything under 16 bytes is refused.
func NewOpaque(nBytes int) (string, error) {
	if nBytes < minEntropyBytes {
		return "", ErrEntropyTooLow
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
