package scheduler

import "github.com/google/uuid"

// TokenGenerator produces the round token attached to a round's log lines.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Tokens generates time-sortable UUIDv7 round tokens.
//
// Thread-safety: UUIDv7Tokens is stateless and safe for concurrent use.
type UUIDv7Tokens struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Tokens) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
