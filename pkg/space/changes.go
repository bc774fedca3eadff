package space

import "github.com/marmos91/blobspace/pkg/store/metadata"

// trackChanges returns patch extended with the change flags it implies for
// a blob currently in state current.
//
//   - deleting a blob clears every flag
//   - a blob still flagged created gets no other flag
//   - otherwise filename changes set renamed, content changes set
//     contentUpdated and parent changes set parentChanged
func trackChanges(current *metadata.Blob, patch metadata.BlobPatch) metadata.BlobPatch {
	if patch.Deleted != nil && *patch.Deleted {
		patch.Created = metadata.Ptr(false)
		patch.Renamed = metadata.Ptr(false)
		patch.ContentUpdated = metadata.Ptr(false)
		patch.ParentChanged = metadata.Ptr(false)
		return patch
	}

	if current.Created || (patch.Created != nil && *patch.Created) {
		return patch
	}

	if changed(patch.Filename, current.Filename) || changed(patch.NormalizedFilename, current.NormalizedFilename) {
		patch.Renamed = metadata.Ptr(true)
	}
	if changed(patch.PhysicalObjectKey, current.PhysicalObjectKey) {
		patch.ContentUpdated = metadata.Ptr(true)
	}
	if changed(patch.ParentID, current.ParentID) {
		patch.ParentChanged = metadata.Ptr(true)
	}
	return patch
}

// trackDirectoryChanges is the directory counterpart of trackChanges. A
// rename or a move changes the path of everything below, which is
// reported through the renamed flag.
func trackDirectoryChanges(current *metadata.Directory, patch metadata.DirectoryPatch) metadata.DirectoryPatch {
	if patch.Deleted != nil && *patch.Deleted {
		patch.Renamed = metadata.Ptr(false)
		return patch
	}

	if changed(patch.Name, current.Name) || changed(patch.ParentID, current.ParentID) {
		patch.Renamed = metadata.Ptr(true)
	}
	return patch
}

func changed(next *string, current string) bool {
	return next != nil && *next != current
}
