package metadata

import "time"

// Directory is a node of the per-tenant directory tree of a space.
//
// A directory with an empty ParentID is the root of its (SpaceName, TenantID)
// pair. Names are compared using NormalizedName.
type Directory struct {
	ID             string    `json:"id"`
	SpaceName      string    `json:"space_name"`
	TenantID       string    `json:"tenant_id"`
	ParentID       string    `json:"parent_id,omitempty"`
	Name           string    `json:"name,omitempty"`
	NormalizedName string    `json:"normalized_name,omitempty"`
	Committed      bool      `json:"committed"`
	Deleted        bool      `json:"deleted"`
	Renamed        bool      `json:"renamed"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsRoot reports whether the directory is the root of its tenant.
func (d *Directory) IsRoot() bool {
	return d.ParentID == ""
}

// Clone returns a copy which can be mutated without affecting the original.
func (d *Directory) Clone() *Directory {
	c := *d
	return &c
}

// Blob is a file of a space. It either lives in the directory tree (ParentID)
// or is attached to an owning record (ReferenceID, ReferenceDesignator).
//
// PhysicalObjectKey points into the content store and changes on every content
// write, which makes it the optimistic version token for content updates.
type Blob struct {
	ID                  string `json:"id"`
	BlobKey             string `json:"blob_key"`
	SpaceName           string `json:"space_name"`
	TenantID            string `json:"tenant_id,omitempty"`
	ParentID            string `json:"parent_id,omitempty"`
	ReferenceID         string `json:"reference_id,omitempty"`
	ReferenceDesignator string `json:"reference_designator,omitempty"`
	PhysicalObjectKey   string `json:"physical_object_key,omitempty"`

	Filename           string `json:"filename,omitempty"`
	NormalizedFilename string `json:"normalized_filename,omitempty"`
	FileExtension      string `json:"file_extension,omitempty"`

	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	LastModified time.Time `json:"last_modified"`
	LastTouched  time.Time `json:"last_touched"`
	CreatedAt    time.Time `json:"created_at"`

	Committed bool `json:"committed"`
	Deleted   bool `json:"deleted"`
	Temporary bool `json:"temporary"`
	ReadOnly  bool `json:"read_only"`

	// Pending change flags, drained by the change processor.
	Created        bool `json:"created"`
	Renamed        bool `json:"renamed"`
	ContentUpdated bool `json:"content_updated"`
	ParentChanged  bool `json:"parent_changed"`
}

// IsAttached reports whether the blob belongs to an owning record.
func (b *Blob) IsAttached() bool {
	return b.ReferenceID != ""
}

// Clone returns a copy which can be mutated without affecting the original.
func (b *Blob) Clone() *Blob {
	c := *b
	return &c
}

// Variant is a derived rendition of a blob, e.g. a thumbnail.
//
// NumAttempts doubles as the optimistic token when claiming a conversion.
type Variant struct {
	ID                    string        `json:"id"`
	BlobID                string        `json:"blob_id"`
	VariantName           string        `json:"variant_name"`
	QueuedForConversion   bool          `json:"queued_for_conversion"`
	NumAttempts           int           `json:"num_attempts"`
	LastConversionAttempt time.Time     `json:"last_conversion_attempt"`
	Node                  string        `json:"node,omitempty"`
	PhysicalObjectKey     string        `json:"physical_object_key,omitempty"`
	Size                  int64         `json:"size"`
	Checksum              string        `json:"checksum,omitempty"`
	ConversionDuration    time.Duration `json:"conversion_duration"`
	QueueDuration         time.Duration `json:"queue_duration"`
	TransferDuration      time.Duration `json:"transfer_duration"`
	CreatedAt             time.Time     `json:"created_at"`
}

// IsCompleted reports whether the conversion produced a physical object.
func (v *Variant) IsCompleted() bool {
	return v.PhysicalObjectKey != ""
}

// Clone returns a copy which can be mutated without affecting the original.
func (v *Variant) Clone() *Variant {
	c := *v
	return &c
}
