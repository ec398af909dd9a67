package simpleasset

import (
	"time"

	"github.com/google/uuid"
)

// AssetKind is the media class of an asset.
type AssetKind string

// Asset kind constants (typed).
const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

// IsValid reports whether k is a known asset kind.
func (k AssetKind) IsValid() bool {
	switch k {
	case AssetKindImage, AssetKindVideo:
		return true
	}
	return false
}

// Asset is the catalog record describing one uploaded blob.
//
// StoragePath is the exact BlobStore key and never changes after create.
// URL is derived from StoragePath by the BlobStore that holds the bytes.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Kind        AssetKind `json:"type"`
	StoragePath string    `json:"storage_path"`
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"size_bytes"`
	MimeType    string    `json:"mime_type"`
	UsedIn      []string  `json:"used_in"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsOrphaned reports whether nothing references the asset.
func (a *Asset) IsOrphaned() bool {
	return len(a.UsedIn) == 0
}

// AttachedImage is one slot in an entity's image gallery.
type AttachedImage struct {
	ID          uuid.UUID  `json:"id"`
	EntityID    string     `json:"entity_id"`
	AssetID     *uuid.UUID `json:"asset_id,omitempty"`
	StoragePath string     `json:"storage_path"`
	URL         string     `json:"url"`
	IsCover     bool       `json:"is_cover"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AttachImageParams contains parameters for binding an image to an entity.
type AttachImageParams struct {
	EntityID    string
	AssetID     *uuid.UUID
	StoragePath string
	URL         string
	IsCover     bool
}

// File is one file submitted for upload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Stage names the step of a pipeline at which a file failed.
type Stage string

// Failure stages.
const (
	StageValidation Stage = "validation"
	StageBlob       Stage = "blob"
	StageCatalog    Stage = "catalog"
	StageAttach     Stage = "attach"
)

// TaskState is the lifecycle state of one file inside an upload batch.
type TaskState string

// Upload task states (typed).
const (
	TaskStatePending        TaskState = "pending"
	TaskStateBlobWritten    TaskState = "blob-written"
	TaskStateCatalogWritten TaskState = "catalog-written"
	TaskStateFailed         TaskState = "failed"
)

// TaskResult is the outcome of one file in an upload batch.
//
// StoragePath is retained on every failure past allocation so that a
// catalog-stage orphan can be handed to a reconciliation process.
type TaskResult struct {
	Index       int       `json:"index"`
	FileName    string    `json:"file_name"`
	State       TaskState `json:"state"`
	Stage       Stage     `json:"stage,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	Asset       *Asset    `json:"asset,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	Err         error     `json:"-"`
}

// Succeeded reports whether both writes completed.
func (r TaskResult) Succeeded() bool {
	return r.State == TaskStateCatalogWritten
}

// Orphaned reports whether the failure left bytes in the blob store with no
// catalog record pointing at them.
func (r TaskResult) Orphaned() bool {
	return r.State == TaskStateFailed && r.Stage == StageCatalog && r.StoragePath != ""
}

// DeleteOutcome summarizes what a delete managed to remove.
type DeleteOutcome string

// Delete outcomes.
const (
	DeleteOutcomeFully     DeleteOutcome = "fully_deleted"
	DeleteOutcomePartially DeleteOutcome = "partially_deleted"
	DeleteOutcomeNone      DeleteOutcome = "not_deleted"
	DeleteOutcomeNoop      DeleteOutcome = "noop"
)

// Remnant names which half of an asset survived a partial delete.
type Remnant string

// Remnant kinds.
const (
	RemnantNone     Remnant = ""
	RemnantBlob     Remnant = "blob"
	RemnantMetadata Remnant = "metadata"
	RemnantBoth     Remnant = "blob+metadata"
)

// DeleteResult reports the consistency state after a delete.
type DeleteResult struct {
	AssetID     uuid.UUID     `json:"asset_id"`
	StoragePath string        `json:"storage_path,omitempty"`
	URL         string        `json:"url,omitempty"`
	Outcome     DeleteOutcome `json:"outcome"`
	Remnant     Remnant       `json:"remnant,omitempty"`
	BlobErr     error         `json:"-"`
	CatalogErr  error         `json:"-"`
}

// Complete reports whether nothing of the asset is left behind.
func (r *DeleteResult) Complete() bool {
	return r.Outcome == DeleteOutcomeFully || r.Outcome == DeleteOutcomeNoop
}

// SortField is a catalog listing order.
type SortField string

// Sort fields supported by catalog listings.
const (
	SortByCreatedAt SortField = "created_at"
	SortByName      SortField = "name"
	SortBySize      SortField = "size_bytes"
)

// Default pagination values.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilters selects and pages catalog records.
//
// Search matches case-insensitively against the name and every usage tag.
// Page is 1-based. A zero SortBy lists newest first.
type ListFilters struct {
	Kind     *AssetKind
	Search   string
	SortBy   SortField
	SortAsc  bool
	Page     int
	PageSize int
}

// Normalize fills in pagination defaults and clamps the page size.
func (f ListFilters) Normalize() ListFilters {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	switch f.SortBy {
	case SortByCreatedAt, SortByName, SortBySize:
	default:
		f.SortBy = SortByCreatedAt
		f.SortAsc = false
	}
	return f
}

// Offset returns the zero-based index of the first record on the page.
func (f ListFilters) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// AssetPage is one page of a catalog listing.
type AssetPage struct {
	Assets   []*Asset `json:"results"`
	Total    int64    `json:"count"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	HasNext  bool     `json:"has_next"`
	HasPrev  bool     `json:"has_prev"`
}

// NewAssetPage builds a page and derives its next/prev flags.
func NewAssetPage(assets []*Asset, total int64, f ListFilters) *AssetPage {
	return &AssetPage{
		Assets:   assets,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		HasNext:  int64(f.Offset()+len(assets)) < total,
		HasPrev:  f.Page > 1,
	}
}
