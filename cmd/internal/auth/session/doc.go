// Package session issues and verifies the token pairs that back a Vnipet login.
//
// Access tokens are PASETO v4.public, short-lived and verified locally with no
// store lookup. Refresh tokens are opaque random strings scoped to a
// (user, device) pair; only their keyed hash is persisted. Every refresh
// rotates the presented token inside its token family, and a family is revoked
// as a unit when a token is replayed or used too often.
//
// HTTP transport lives in cmd/internal/auth/api.
package session
