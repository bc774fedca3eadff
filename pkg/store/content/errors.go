package content

import "errors"

// Implementations wrap these errors with the offending key:
//
//	return fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)

var (
	// ErrContentNotFound indicates the requested object does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidKey indicates a malformed physical object key.
	//
	// Keys must be non-empty, relative, and must not contain "." or ".."
	// segments, so that file-backed stores cannot escape their root.
	ErrInvalidKey = errors.New("invalid content key")
)
