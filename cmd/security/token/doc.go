// Package token generates opaque bearer secrets and hashes them for storage.
//
// Refresh tokens are random base64url strings handed to the client once.
// The server keeps only a 64-char hex digest:
//   - HMAC-SHA256(token, key) when VNIPET_TOKEN_HMAC_KEY is configured
//   - SHA-256(token) otherwise, for local development
//
// A Hasher is built once at startup and passed to the stores that need it.
package token
