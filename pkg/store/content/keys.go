package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewKey returns a fresh physical object key under prefix, e.g.
// "docs/2024/03/5f0c...". The date segments spread objects across
// directories for file-backed stores.
func NewKey(prefix string) string {
	now := time.Now().UTC()
	key := fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), uuid.NewString())
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// ValidateKey checks that key is usable by every store.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}
	return nil
}
