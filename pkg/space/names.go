package space

import (
	"path"
	"strings"
)

// sanitizeName trims a directory or file name and converts backslashes.
// Names containing a path separator are rejected, as are empty names.
func sanitizeName(name string) (string, bool) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", false
	}
	return name, true
}

// splitPath turns "/a/b\\c.pdf" into ["a", "b", "c.pdf"]. Empty segments
// are dropped.
func splitPath(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	var segments []string
	for _, segment := range strings.Split(p, "/") {
		segment = strings.TrimSpace(segment)
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

// normalize returns the form names are compared by.
func (s *Space) normalize(name string) string {
	if s.settings.UseNormalizedNames {
		return strings.ToLower(name)
	}
	return name
}

// fileExtension returns the lowercase extension without the dot.
func fileExtension(filename string) string {
	ext := path.Ext(strings.ToLower(filename))
	return strings.TrimPrefix(ext, ".")
}
