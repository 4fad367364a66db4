package cache

import (
	"fmt"
	"unicode"
)

// MaxKeyLength bounds cache keys.
const MaxKeyLength = 250

// ValidateKey checks that key is non-empty, at most MaxKeyLength bytes and
// free of whitespace and control characters.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: key contains whitespace or control character", ErrInvalidKey)
		}
	}

	return nil
}
