// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string format
// ($argon2id$v=19$m=..,t=..,p=..$salt$key). Stored hashes are treated as
// untrusted input during Verify: malformed strings and parameters far above
// the configured cost are rejected before any key derivation runs.
package password
