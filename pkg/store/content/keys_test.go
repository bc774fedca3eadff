package content

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKey(t *testing.T) {
	key := NewKey("docs/")
	assert.True(t, strings.HasPrefix(key, "docs/"))
	assert.NoError(t, ValidateKey(key))
	assert.NotEqual(t, key, NewKey("docs"))

	assert.NoError(t, ValidateKey(NewKey("")))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"docs/2024/03/abc", true},
		{"abc", true},
		{"", false},
		{"/abs/path", false},
		{"docs/../etc/passwd", false},
		{"docs/./x", false},
		{"docs//x", false},
		{"docs/x/", false},
		{`docs\x`, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidKey), "expected ErrInvalidKey, got %v", err)
			}
		})
	}
}
