package sched

import "github.com/google/uuid"

// TokenGenerator produces build tokens correlating every event of one
// client request. Implemented by UUIDv7Generator (production) and the
// scripted generator in testutil (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 build tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, which keeps
// journal rows and log lines sortable by request creation time.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
