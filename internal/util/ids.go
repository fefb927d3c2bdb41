package util

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string. Ids made by one process sort in the
// order they were made, even within the same millisecond.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUserID returns a random user id.
func NewUserID() string {
	return uuid.NewString()
}

// ValidUserID reports whether s is a user id in canonical UUID form.
func ValidUserID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}
