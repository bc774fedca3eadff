// Package fs implements filesystem-based content storage.
//
// Objects are stored as regular files below a base directory, using the
// physical key as the relative path. Writes go to a temporary file in the
// same directory and are renamed into place, so readers never observe a
// partially written object.
package fs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/blobspace/pkg/store/content"
)

// zstdMagic is the little-endian frame magic number 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FSContentStore implements content.ContentStore on the local filesystem.
//
// When compression is enabled, objects are written as zstd frames. Reads
// detect the frame magic, so a store can switch compression on or off
// without rewriting existing objects.
//
// Thread Safety:
// Safe for concurrent use. Concurrent Puts to the same key resolve to
// whichever rename happens last.
type FSContentStore struct {
	basePath string
	compress bool
	level    zstd.EncoderLevel
}

// FSContentStoreConfig contains configuration for the filesystem store.
type FSContentStoreConfig struct {
	// BasePath is the root directory for stored objects. Created if missing.
	BasePath string

	// Compress enables zstd compression of stored objects.
	Compress bool

	// CompressionLevel is one of "fastest", "default", "better", "best".
	// Empty means "default".
	CompressionLevel string
}

// NewFSContentStore creates a filesystem content store.
//
// Context Cancellation:
// This operation checks the context before creating the directory structure.
func NewFSContentStore(ctx context.Context, cfg FSContentStoreConfig) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	level := zstd.SpeedDefault
	if cfg.CompressionLevel != "" {
		ok, parsed := zstd.EncoderLevelFromString(cfg.CompressionLevel)
		if !ok {
			return nil, fmt.Errorf("unknown compression level %q", cfg.CompressionLevel)
		}
		level = parsed
	}

	// ========================================================================
	// Step 3: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{
		basePath: cfg.BasePath,
		compress: cfg.Compress,
		level:    level,
	}, nil
}

// getFilePath returns the full path for key. Keys are validated first so
// the result never escapes basePath.
func (s *FSContentStore) getFilePath(key string) (string, error) {
	if err := content.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// Put writes r to a temporary file and renames it into place.
func (s *FSContentStore) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := s.getFilePath(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := s.write(ctx, tmp, r)
	if err != nil {
		return 0, fmt.Errorf("failed to write content %s: %w", key, err)
	}

	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync content %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close content %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to commit content %s: %w", key, err)
	}
	committed = true

	return n, nil
}

// write copies r into f, compressing when enabled, and returns the number
// of uncompressed bytes consumed.
func (s *FSContentStore) write(ctx context.Context, f *os.File, r io.Reader) (int64, error) {
	src := &contextReader{ctx: ctx, r: r}

	if !s.compress {
		return io.Copy(f, src)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(s.level))
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(enc, src)
	if err != nil {
		_ = enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// Get opens the object, transparently decompressing zstd frames.
func (s *FSContentStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.getFilePath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	br := bufio.NewReader(file)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read content %s: %w", key, err)
	}

	if !bytes.Equal(head, zstdMagic) {
		return &readCloser{Reader: br, close: file.Close}, nil
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open compressed content %s: %w", key, err)
	}
	return &readCloser{
		Reader: dec,
		close: func() error {
			dec.Close()
			return file.Close()
		},
	}, nil
}

// Delete removes the object. Missing objects are ignored.
func (s *FSContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.getFilePath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object file is present.
func (s *FSContentStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := s.getFilePath(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat content %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error {
	return r.close()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
