package conversion

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Converter produces the bytes of a variant from the bytes of its blob.
type Converter interface {
	Convert(ctx context.Context, src io.Reader, dst io.Writer) error
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, src io.Reader, dst io.Writer) error

// Convert implements Converter.
func (f ConverterFunc) Convert(ctx context.Context, src io.Reader, dst io.Writer) error {
	return f(ctx, src, dst)
}

// Registry maps variant names to converters.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{converters: make(map[string]Converter)}
}

// DefaultRegistry returns a registry holding the built-in "zstd" and
// "gzip" converters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("zstd", ZstdConverter{})
	r.Register("gzip", GzipConverter{})
	return r
}

// Register binds name to c, replacing any previous converter.
func (r *Registry) Register(name string, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[name] = c
}

// Lookup returns the converter of name.
func (r *Registry) Lookup(name string) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[name]
	return c, ok
}

// Names returns the registered variant names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.converters))
	for name := range r.converters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ZstdConverter compresses the source into a single zstd stream.
type ZstdConverter struct {
	// Level is a zstd level name ("fastest", "default", "better", "best").
	// Empty selects "default".
	Level string
}

// Convert implements Converter.
func (z ZstdConverter) Convert(ctx context.Context, src io.Reader, dst io.Writer) error {
	level := zstd.SpeedDefault
	if z.Level != "" {
		ok, parsed := zstd.EncoderLevelFromString(z.Level)
		if !ok {
			return fmt.Errorf("unknown zstd level %q", z.Level)
		}
		level = parsed
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, contextReader{ctx: ctx, r: src}); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// GzipConverter compresses the source with gzip.
type GzipConverter struct {
	// Level is a gzip level; 0 selects gzip.DefaultCompression.
	Level int
}

// Convert implements Converter.
func (g GzipConverter) Convert(ctx context.Context, src io.Reader, dst io.Writer) error {
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	zw, err := gzip.NewWriterLevel(dst, level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, contextReader{ctx: ctx, r: src}); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// contextReader fails reads once ctx is done, so long copies stop on
// cancellation.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
