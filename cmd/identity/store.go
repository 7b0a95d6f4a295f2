package identity

import (
	"context"
	"time"
)

// Roles carried in access tokens.
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RolePartner = "partner"
)

// User is an account that can log in.
type User struct {
	ID           string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserInput is a validated, already hashed registration.
type CreateUserInput struct {
	Email        string
	Role         string
	PasswordHash string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUserByID and GetUserByEmail return NotFoundError when no row matches.
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
}
