package space

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contentmemory "github.com/marmos91/blobspace/pkg/store/content/memory"
	metadatamemory "github.com/marmos91/blobspace/pkg/store/metadata/memory"
)

func TestNewStorage(t *testing.T) {
	deps := Dependencies{
		Metadata: metadatamemory.NewMemoryMetadataStore(),
		Content:  contentmemory.NewMemoryContentStore(),
	}

	t.Run("registers spaces", func(t *testing.T) {
		storage, err := NewStorage(deps, Settings{Name: "docs"}, Settings{Name: "avatars", ReadOnly: true})
		require.NoError(t, err)

		spaces := storage.Spaces()
		require.Len(t, spaces, 2)
		assert.Equal(t, "avatars", spaces[0].Name())
		assert.Equal(t, "docs", spaces[1].Name())
		assert.NotEmpty(t, storage.Node())
		assert.Equal(t, storage.Node(), spaces[0].Node())
		assert.True(t, spaces[0].Settings().ReadOnly)
		assert.False(t, spaces[1].ConversionEnabled())
	})

	t.Run("unknown space", func(t *testing.T) {
		storage, err := NewStorage(deps, Settings{Name: "docs"})
		require.NoError(t, err)

		_, err = storage.Space("missing")
		requireCode(t, err, ErrUnknownSpace)
	})

	t.Run("invalid settings", func(t *testing.T) {
		_, err := NewStorage(deps, Settings{Name: "docs"}, Settings{Name: "docs"})
		assert.Error(t, err)

		_, err = NewStorage(deps, Settings{})
		assert.Error(t, err)

		_, err = NewStorage(deps, Settings{Name: "docs", RetentionDays: -1})
		assert.Error(t, err)
	})

	t.Run("missing stores", func(t *testing.T) {
		_, err := NewStorage(Dependencies{Content: deps.Content}, Settings{Name: "docs"})
		assert.Error(t, err)

		_, err = NewStorage(Dependencies{Metadata: deps.Metadata}, Settings{Name: "docs"})
		assert.Error(t, err)
	})
}

func TestOptionsApplyDefaults(t *testing.T) {
	var opts Options
	opts.ApplyDefaults()

	assert.Equal(t, 10, opts.MaxOptimisticLockAttempts)
	assert.Equal(t, 5, opts.ResolveAttempts)
	assert.Equal(t, 20, opts.LongResolveAttempts)
	assert.Positive(t, opts.HangingConversionRetryInterval)
}

func TestError(t *testing.T) {
	cause := errors.New("connection reset")
	s := &Space{name: "docs"}

	err := s.annotate(cause, "update content", "k1")
	requireCode(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "space docs: update content k1: the storage backend failed", err.Error())
	assert.NotContains(t, err.Error(), "connection reset")

	inner := &Error{Code: ErrInUse, Message: "busy"}
	annotated := s.annotate(inner, "attach", "k2")
	requireCode(t, annotated, ErrInUse)
	assert.Equal(t, "space docs: attach k2: busy", annotated.Error())

	assert.Nil(t, s.annotate(nil, "op", "key"))
	assert.False(t, IsCode(cause, ErrStorage))
	assert.Equal(t, "ConflictExhausted", ErrConflictExhausted.String())
}
