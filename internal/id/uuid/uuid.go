// Package uuid generates job and batch identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/article2md/internal/jobs"
)

var _ jobs.IDGenerator = Generator{}

// Generator creates UUIDv7 strings, which sort by creation time.
type Generator struct{}

// NewUUIDGenerator creates a Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a new UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
