package utils

import (
	"github.com/google/uuid"
)

// GenerateCallID returns a fresh call identifier.
func GenerateCallID() string {
	return uuid.NewString()
}

// IsCallID reports whether s parses as a call identifier.
func IsCallID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
