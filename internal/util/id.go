// Package util holds small internal helpers shared across the engine:
// identifier generation, pointer constructors and minimal JSON-schema
// argument validation for tools.
package util

import "github.com/google/uuid"

// NewID generates a UUID string used for execution, confirmation and
// tool-call identifiers.
func NewID() string { return uuid.NewString() }

// Ptr returns a pointer to v. Useful for optional struct fields where nil
// distinguishes "not set" from the zero value.
func Ptr[T any](v T) *T { return &v }
