// Package uuid provides run and record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRecordID returns a WARC-Record-ID value of the form <urn:uuid:...>.
func (g Generator) NewRecordID() (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return "<urn:uuid:" + id + ">", nil
}
