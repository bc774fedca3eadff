package metadata

import (
	"strings"
	"time"
)

// Ptr returns a pointer to v. Queries and patches use nil to mean "not set".
func Ptr[T any](v T) *T {
	return &v
}

// Order selects the ordering of Find* results.
type Order int

const (
	// OrderNone leaves the order up to the store.
	OrderNone Order = iota

	// OrderByName sorts by normalized name (directories) or normalized filename (blobs).
	OrderByName

	// OrderByLastModifiedDesc sorts blobs by lastModified, newest first.
	OrderByLastModifiedDesc

	// OrderByCreated sorts by creation time, oldest first.
	OrderByCreated
)

// ListOptions bounds and orders a Find* call. A zero Limit means unbounded.
type ListOptions struct {
	Limit  int
	Offset int
	Order  Order
}

// Aggregate is the result of AggregateBlobs.
type Aggregate struct {
	Count     int
	TotalSize int64
}

// ============================================================================
// Queries
// ============================================================================
//
// A query is a conjunction of its set fields. Empty strings stand for "no
// value" of optional string columns, so ParentID: Ptr("") selects roots.

// DirectoryQuery selects directories.
type DirectoryQuery struct {
	ID             *string
	SpaceName      *string
	TenantID       *string
	ParentID       *string
	NormalizedName *string
	NamePrefix     string
	Committed      *bool
	Deleted        *bool
	Renamed        *bool
	ExcludeID      string
}

// BlobQuery selects blobs.
type BlobQuery struct {
	ID                  *string
	BlobKey             *string
	SpaceName           *string
	TenantID            *string
	ParentID            *string
	ReferenceID         *string
	ReferenceDesignator *string
	NormalizedFilename  *string
	PhysicalObjectKey   *string
	NamePrefix          string
	FileExtensions      []string
	Committed           *bool
	Deleted             *bool
	Temporary           *bool
	Created             *bool
	Renamed             *bool
	ContentUpdated      *bool
	ParentChanged       *bool

	// LastModifiedBefore matches blobs modified strictly before the given
	// instant. Zero disables the predicate.
	LastModifiedBefore time.Time

	// LastTouchedBeforeOrUnset matches blobs never touched or touched
	// strictly before the given instant. Zero disables the predicate.
	LastTouchedBeforeOrUnset time.Time

	ExcludeID      string
	ExcludeBlobKey string
}

// VariantQuery selects variants.
type VariantQuery struct {
	ID                  *string
	BlobID              *string
	VariantName         *string
	QueuedForConversion *bool
	NumAttempts         *int
	HasPhysicalObject   *bool
	ExcludeID           string
}

// ============================================================================
// Patches
// ============================================================================

// DirectoryPatch lists the columns an update sets.
type DirectoryPatch struct {
	ParentID       *string
	Name           *string
	NormalizedName *string
	Committed      *bool
	Deleted        *bool
	Renamed        *bool
}

// BlobPatch lists the columns an update sets.
type BlobPatch struct {
	ParentID            *string
	ReferenceID         *string
	ReferenceDesignator *string
	PhysicalObjectKey   *string
	Filename            *string
	NormalizedFilename  *string
	FileExtension       *string
	Size                *int64
	Checksum            *string
	LastModified        *time.Time
	LastTouched         *time.Time
	Committed           *bool
	Deleted             *bool
	Temporary           *bool
	ReadOnly            *bool
	Created             *bool
	Renamed             *bool
	ContentUpdated      *bool
	ParentChanged       *bool
}

// VariantPatch lists the columns an update sets.
type VariantPatch struct {
	QueuedForConversion   *bool
	NumAttempts           *int
	LastConversionAttempt *time.Time
	Node                  *string
	PhysicalObjectKey     *string
	Size                  *int64
	Checksum              *string
	ConversionDuration    *time.Duration
	QueueDuration         *time.Duration
	TransferDuration      *time.Duration
}

// ============================================================================
// In-process evaluation (shared by the memory and badger stores)
// ============================================================================

func eqString(want *string, got string) bool {
	return want == nil || *want == got
}

func eqBool(want *bool, got bool) bool {
	return want == nil || *want == got
}

// Matches reports whether d satisfies the query.
func (q *DirectoryQuery) Matches(d *Directory) bool {
	return eqString(q.ID, d.ID) &&
		eqString(q.SpaceName, d.SpaceName) &&
		eqString(q.TenantID, d.TenantID) &&
		eqString(q.ParentID, d.ParentID) &&
		eqString(q.NormalizedName, d.NormalizedName) &&
		strings.HasPrefix(d.NormalizedName, q.NamePrefix) &&
		eqBool(q.Committed, d.Committed) &&
		eqBool(q.Deleted, d.Deleted) &&
		eqBool(q.Renamed, d.Renamed) &&
		(q.ExcludeID == "" || q.ExcludeID != d.ID)
}

// Matches reports whether b satisfies the query.
func (q *BlobQuery) Matches(b *Blob) bool {
	if !(eqString(q.ID, b.ID) &&
		eqString(q.BlobKey, b.BlobKey) &&
		eqString(q.SpaceName, b.SpaceName) &&
		eqString(q.TenantID, b.TenantID) &&
		eqString(q.ParentID, b.ParentID) &&
		eqString(q.ReferenceID, b.ReferenceID) &&
		eqString(q.ReferenceDesignator, b.ReferenceDesignator) &&
		eqString(q.NormalizedFilename, b.NormalizedFilename) &&
		eqString(q.PhysicalObjectKey, b.PhysicalObjectKey) &&
		strings.HasPrefix(b.NormalizedFilename, q.NamePrefix) &&
		eqBool(q.Committed, b.Committed) &&
		eqBool(q.Deleted, b.Deleted) &&
		eqBool(q.Temporary, b.Temporary) &&
		eqBool(q.Created, b.Created) &&
		eqBool(q.Renamed, b.Renamed) &&
		eqBool(q.ContentUpdated, b.ContentUpdated) &&
		eqBool(q.ParentChanged, b.ParentChanged)) {
		return false
	}

	if len(q.FileExtensions) > 0 && !containsFold(q.FileExtensions, b.FileExtension) {
		return false
	}
	if !q.LastModifiedBefore.IsZero() && !b.LastModified.Before(q.LastModifiedBefore) {
		return false
	}
	if !q.LastTouchedBeforeOrUnset.IsZero() && !b.LastTouched.IsZero() &&
		!b.LastTouched.Before(q.LastTouchedBeforeOrUnset) {
		return false
	}
	if q.ExcludeID != "" && q.ExcludeID == b.ID {
		return false
	}
	if q.ExcludeBlobKey != "" && q.ExcludeBlobKey == b.BlobKey {
		return false
	}
	return true
}

// Matches reports whether v satisfies the query.
func (q *VariantQuery) Matches(v *Variant) bool {
	return eqString(q.ID, v.ID) &&
		eqString(q.BlobID, v.BlobID) &&
		eqString(q.VariantName, v.VariantName) &&
		eqBool(q.QueuedForConversion, v.QueuedForConversion) &&
		(q.NumAttempts == nil || *q.NumAttempts == v.NumAttempts) &&
		(q.HasPhysicalObject == nil || *q.HasPhysicalObject == (v.PhysicalObjectKey != "")) &&
		(q.ExcludeID == "" || q.ExcludeID != v.ID)
}

func containsFold(list []string, s string) bool {
	for _, candidate := range list {
		if strings.EqualFold(strings.TrimPrefix(candidate, "."), s) {
			return true
		}
	}
	return false
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Apply writes the set fields of the patch into d.
func (p *DirectoryPatch) Apply(d *Directory) {
	setString(&d.ParentID, p.ParentID)
	setString(&d.Name, p.Name)
	setString(&d.NormalizedName, p.NormalizedName)
	setBool(&d.Committed, p.Committed)
	setBool(&d.Deleted, p.Deleted)
	setBool(&d.Renamed, p.Renamed)
}

// Apply writes the set fields of the patch into b.
func (p *BlobPatch) Apply(b *Blob) {
	setString(&b.ParentID, p.ParentID)
	setString(&b.ReferenceID, p.ReferenceID)
	setString(&b.ReferenceDesignator, p.ReferenceDesignator)
	setString(&b.PhysicalObjectKey, p.PhysicalObjectKey)
	setString(&b.Filename, p.Filename)
	setString(&b.NormalizedFilename, p.NormalizedFilename)
	setString(&b.FileExtension, p.FileExtension)
	setString(&b.Checksum, p.Checksum)
	if p.Size != nil {
		b.Size = *p.Size
	}
	if p.LastModified != nil {
		b.LastModified = *p.LastModified
	}
	if p.LastTouched != nil {
		b.LastTouched = *p.LastTouched
	}
	setBool(&b.Committed, p.Committed)
	setBool(&b.Deleted, p.Deleted)
	setBool(&b.Temporary, p.Temporary)
	setBool(&b.ReadOnly, p.ReadOnly)
	setBool(&b.Created, p.Created)
	setBool(&b.Renamed, p.Renamed)
	setBool(&b.ContentUpdated, p.ContentUpdated)
	setBool(&b.ParentChanged, p.ParentChanged)
}

// Apply writes the set fields of the patch into v.
func (p *VariantPatch) Apply(v *Variant) {
	setBool(&v.QueuedForConversion, p.QueuedForConversion)
	if p.NumAttempts != nil {
		v.NumAttempts = *p.NumAttempts
	}
	if p.LastConversionAttempt != nil {
		v.LastConversionAttempt = *p.LastConversionAttempt
	}
	setString(&v.Node, p.Node)
	setString(&v.PhysicalObjectKey, p.PhysicalObjectKey)
	if p.Size != nil {
		v.Size = *p.Size
	}
	setString(&v.Checksum, p.Checksum)
	if p.ConversionDuration != nil {
		v.ConversionDuration = *p.ConversionDuration
	}
	if p.QueueDuration != nil {
		v.QueueDuration = *p.QueueDuration
	}
	if p.TransferDuration != nil {
		v.TransferDuration = *p.TransferDuration
	}
}
