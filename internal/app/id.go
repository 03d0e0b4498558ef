package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateID returns a fresh 32-character hex repo id. Repo ids are
// opaque and stable for the lifetime of one resource generation.
func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
