package badger

// Database Key Namespace Design
// ==============================
//
// Rows are stored as JSON under a per-entity prefix. Secondary lookups used
// by the engine (children of a directory, blobs by key, variants by blob) are
// materialized as empty-valued index keys so they can be range scanned.
//
// Data Type            Prefix   Key Format                     Value
// ======================================================================
// Directory            "d:"     d:<id>                         Directory (JSON)
// Blob                 "b:"     b:<id>                         Blob (JSON)
// Variant              "v:"     v:<id>                         Variant (JSON)
// Blob key index       "bk:"    bk:<blobKey>                   blob id
// Child directories    "dp:"    dp:<parentID>:<id>             empty
// Child blobs          "bp:"    bp:<parentID>:<id>             empty
// Variants of a blob   "vb:"    vb:<blobID>:<id>               empty
//
// Roots have an empty parent id, so "dp::" lists every root of the store.
// Attached blobs have no parent and no "bp:" entry.

const (
	prefixDirectory = "d:"
	prefixBlob      = "b:"
	prefixVariant   = "v:"

	prefixBlobKey     = "bk:"
	prefixDirParent   = "dp:"
	prefixBlobParent  = "bp:"
	prefixVariantBlob = "vb:"
)

func keyDirectory(id string) []byte {
	return []byte(prefixDirectory + id)
}

func keyBlob(id string) []byte {
	return []byte(prefixBlob + id)
}

func keyVariant(id string) []byte {
	return []byte(prefixVariant + id)
}

func keyBlobKey(blobKey string) []byte {
	return []byte(prefixBlobKey + blobKey)
}

func keyDirParent(parentID, id string) []byte {
	return []byte(prefixDirParent + parentID + ":" + id)
}

func keyDirParentPrefix(parentID string) []byte {
	return []byte(prefixDirParent + parentID + ":")
}

func keyBlobParent(parentID, id string) []byte {
	return []byte(prefixBlobParent + parentID + ":" + id)
}

func keyBlobParentPrefix(parentID string) []byte {
	return []byte(prefixBlobParent + parentID + ":")
}

func keyVariantBlob(blobID, id string) []byte {
	return []byte(prefixVariantBlob + blobID + ":" + id)
}

func keyVariantBlobPrefix(blobID string) []byte {
	return []byte(prefixVariantBlob + blobID + ":")
}

// idFromIndexKey returns the trailing row id of an index key built from prefix.
func idFromIndexKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}
