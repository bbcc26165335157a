package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random 32-char hex id.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether raw can be used as a session id: non-empty, at most
// 128 chars, and made of printable non-space ASCII.
func Valid(raw string) bool {
	if raw == "" || len(raw) > 128 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c <= ' ' || c > '~' || c == '/' {
			return false
		}
	}
	return true
}
