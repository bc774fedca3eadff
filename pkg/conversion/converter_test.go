package conversion

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdConverter(t *testing.T) {
	input := strings.Repeat("blobspace ", 1000)

	for _, level := range []string{"", "fastest", "best"} {
		t.Run("level="+level, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, ZstdConverter{Level: level}.Convert(context.Background(), strings.NewReader(input), &out))
			assert.Less(t, out.Len(), len(input))

			dec, err := zstd.NewReader(&out)
			require.NoError(t, err)
			defer dec.Close()
			got, err := io.ReadAll(dec)
			require.NoError(t, err)
			assert.Equal(t, input, string(got))
		})
	}
}

func TestZstdConverter_UnknownLevel(t *testing.T) {
	err := ZstdConverter{Level: "ludicrous"}.Convert(context.Background(), strings.NewReader("x"), io.Discard)
	assert.ErrorContains(t, err, "unknown zstd level")
}

func TestGzipConverter(t *testing.T) {
	input := strings.Repeat("abc", 500)

	var out bytes.Buffer
	require.NoError(t, GzipConverter{}.Convert(context.Background(), strings.NewReader(input), &out))

	zr, err := gzip.NewReader(&out)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, input, string(got))
}

func TestConverter_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ZstdConverter{}.Convert(ctx, strings.NewReader("data"), io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"gzip", "zstd"}, r.Names())

	_, ok := r.Lookup("thumbnail")
	assert.False(t, ok)

	r.Register("upper", ConverterFunc(func(_ context.Context, src io.Reader, dst io.Writer) error {
		data, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		_, err = dst.Write(bytes.ToUpper(data))
		return err
	}))

	c, ok := r.Lookup("upper")
	require.True(t, ok)
	var out bytes.Buffer
	require.NoError(t, c.Convert(context.Background(), strings.NewReader("shout"), &out))
	assert.Equal(t, "SHOUT", out.String())
}
