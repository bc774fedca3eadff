package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"report.pdf", "report.pdf", true},
		{"  spaced  ", "spaced", true},
		{"", "", false},
		{"   ", "", false},
		{".", "", false},
		{"..", "", false},
		{"a/b", "", false},
		{`a\b`, "", false},
	}

	for _, tt := range tests {
		got, ok := sanitizeName(tt.in)
		assert.Equal(t, tt.ok, ok, "sanitizeName(%q)", tt.in)
		assert.Equal(t, tt.want, got, "sanitizeName(%q)", tt.in)
	}
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c.pdf"}, splitPath(`/a//b\c.pdf`))
	assert.Empty(t, splitPath("/"))
	assert.Empty(t, splitPath(""))
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, "pdf", fileExtension("Report.PDF"))
	assert.Equal(t, "gz", fileExtension("archive.tar.gz"))
	assert.Equal(t, "", fileExtension("README"))
}

func TestNormalize(t *testing.T) {
	folding := &Space{settings: Settings{UseNormalizedNames: true}}
	exact := &Space{}

	assert.Equal(t, "invoices", folding.normalize("Invoices"))
	assert.Equal(t, "Invoices", exact.normalize("Invoices"))
}
