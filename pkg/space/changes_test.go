package space

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

func flagValue(p *bool) bool {
	return p != nil && *p
}

func TestTrackChanges(t *testing.T) {
	base := metadata.Blob{
		ParentID:           "dir-1",
		Filename:           "a.pdf",
		NormalizedFilename: "a.pdf",
		PhysicalObjectKey:  "docs/k1",
	}

	tests := []struct {
		name                                       string
		current                                    func(b *metadata.Blob)
		patch                                      metadata.BlobPatch
		created, renamed, contentUpdated, parentCh bool
	}{
		{
			name:    "rename",
			patch:   metadata.BlobPatch{Filename: metadata.Ptr("b.pdf"), NormalizedFilename: metadata.Ptr("b.pdf")},
			renamed: true,
		},
		{
			name:  "same name is no rename",
			patch: metadata.BlobPatch{Filename: metadata.Ptr("a.pdf")},
		},
		{
			name:           "new content",
			patch:          metadata.BlobPatch{PhysicalObjectKey: metadata.Ptr("docs/k2")},
			contentUpdated: true,
		},
		{
			name:     "move",
			patch:    metadata.BlobPatch{ParentID: metadata.Ptr("dir-2")},
			parentCh: true,
		},
		{
			name: "move and rename",
			patch: metadata.BlobPatch{
				ParentID: metadata.Ptr("dir-2"),
				Filename: metadata.Ptr("b.pdf"),
			},
			renamed:  true,
			parentCh: true,
		},
		{
			name:    "first content write",
			current: func(b *metadata.Blob) { b.PhysicalObjectKey = "" },
			patch: metadata.BlobPatch{
				PhysicalObjectKey: metadata.Ptr("docs/k2"),
				Created:           metadata.Ptr(true),
			},
			created: true,
		},
		{
			name:    "pending created swallows other changes",
			current: func(b *metadata.Blob) { b.Created = true },
			patch: metadata.BlobPatch{
				PhysicalObjectKey: metadata.Ptr("docs/k2"),
				Filename:          metadata.Ptr("b.pdf"),
			},
		},
		{
			name: "delete clears everything",
			current: func(b *metadata.Blob) {
				b.Renamed = true
				b.ContentUpdated = true
			},
			patch: metadata.BlobPatch{
				Deleted:           metadata.Ptr(true),
				PhysicalObjectKey: metadata.Ptr("docs/k2"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := base
			if tt.current != nil {
				tt.current(&current)
			}

			patch := trackChanges(&current, tt.patch)

			assert.Equal(t, tt.created, flagValue(patch.Created), "created")
			assert.Equal(t, tt.renamed, flagValue(patch.Renamed), "renamed")
			assert.Equal(t, tt.contentUpdated, flagValue(patch.ContentUpdated), "contentUpdated")
			assert.Equal(t, tt.parentCh, flagValue(patch.ParentChanged), "parentChanged")
		})
	}
}

func TestTrackChanges_DeleteSetsExplicitFalse(t *testing.T) {
	patch := trackChanges(&metadata.Blob{Created: true}, metadata.BlobPatch{Deleted: metadata.Ptr(true)})

	for name, flag := range map[string]*bool{
		"created":        patch.Created,
		"renamed":        patch.Renamed,
		"contentUpdated": patch.ContentUpdated,
		"parentChanged":  patch.ParentChanged,
	} {
		if assert.NotNil(t, flag, name) {
			assert.False(t, *flag, name)
		}
	}
}

func TestTrackDirectoryChanges(t *testing.T) {
	current := &metadata.Directory{ParentID: "p", Name: "a"}

	assert.True(t, flagValue(trackDirectoryChanges(current, metadata.DirectoryPatch{Name: metadata.Ptr("b")}).Renamed))
	assert.True(t, flagValue(trackDirectoryChanges(current, metadata.DirectoryPatch{ParentID: metadata.Ptr("q")}).Renamed))
	assert.False(t, flagValue(trackDirectoryChanges(current, metadata.DirectoryPatch{Name: metadata.Ptr("a")}).Renamed))

	deleted := trackDirectoryChanges(current, metadata.DirectoryPatch{Deleted: metadata.Ptr(true), Name: metadata.Ptr("b")})
	assert.NotNil(t, deleted.Renamed)
	assert.False(t, *deleted.Renamed)
}
