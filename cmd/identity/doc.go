// Package identity is the account collaborator of the session service.
//
// It stores users (email, role, Argon2id password hash), verifies
// credentials, and tracks failed logins so repeated guessing locks the
// account for a while. Lockout state lives in Redis when configured and in
// process memory otherwise.
package identity
