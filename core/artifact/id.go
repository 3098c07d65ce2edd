package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const idLen = 16 // hex characters

// newID returns a fresh opaque artifact id: 8 random bytes as 16 hex
// characters. Ids are never derived from content, so they are never
// reused even after the content they named is gone.
func newID() (string, error) {
	buf := make([]byte, idLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// validID reports whether s looks like an id this service issued.
func validID(s string) bool {
	if len(s) != idLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
