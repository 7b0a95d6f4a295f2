package identity

import (
	"time"

	"github.com/PhamTy2002z/Vnipet-App-sub000/cmd/identity/ids"
)

// NewULID returns a new user id (26-char ULID).
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
