// Package uuid generates job identifiers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 job ids, so lexical order of ids
// follows submission order.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID. Job ids created elsewhere (for
// example by tests or imports) are not required to be UUIDs.
func Valid(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}
