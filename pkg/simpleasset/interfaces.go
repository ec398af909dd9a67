package simpleasset

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the capability the pipelines need from a storage backend
type BlobStore interface {
	// Put writes the bytes at path, replacing anything already there
	Put(ctx context.Context, path string, reader io.Reader, opts PutOptions) error

	// Delete removes the object at path. Returns ErrBlobNotFound if absent
	Delete(ctx context.Context, path string) error

	// PublicURL returns the stable public URL for path. Pure function of path
	PublicURL(path string) string
}

// BlobReader is implemented by stores that can serve bytes back
type BlobReader interface {
	// Get opens the object at path. Returns ErrBlobNotFound if absent
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns metadata for the object at path. Returns ErrBlobNotFound if absent
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
}

// BlobLister is implemented by stores that can enumerate their objects
type BlobLister interface {
	// List returns every object whose path starts with prefix, ordered by path
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// PutOptions contains parameters for writing an object
type PutOptions struct {
	MimeType string
	Size     int64
}

// ObjectInfo contains metadata about an object in storage
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// Catalog defines the interface for asset metadata persistence
type Catalog interface {
	// CreateAsset persists a new record, assigning ID and timestamps when unset.
	// Returns ErrDuplicateStoragePath if another record owns the path
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetAssetByStoragePath(ctx context.Context, path string) (*Asset, error)
	UpdateAsset(ctx context.Context, asset *Asset) error
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	ListAssets(ctx context.Context, filters ListFilters) (*AssetPage, error)
}

// ImageStore defines the parent entity's image capability
type ImageStore interface {
	// ListImages returns the entity's images ordered by position
	ListImages(ctx context.Context, entityID string) ([]*AttachedImage, error)

	// DeleteImage removes one image. When it was the cover, the remaining image
	// with the lowest position becomes cover
	DeleteImage(ctx context.Context, entityID string, imageID uuid.UUID) error

	// AttachImage appends an image after the current last position. Attaching
	// a cover clears the flag on every other image of the entity
	AttachImage(ctx context.Context, params AttachImageParams) (*AttachedImage, error)

	// SetCover makes imageID the only cover of the entity
	SetCover(ctx context.Context, entityID string, imageID uuid.UUID) (*AttachedImage, error)

	// DeleteEntityImages removes every image of the entity and returns them
	DeleteEntityImages(ctx context.Context, entityID string) ([]*AttachedImage, error)
}

// PathAllocator generates storage paths that are unique without coordination
type PathAllocator interface {
	Allocate(namespace, fileName string) string
}

// EventSink defines the interface for event handling
type EventSink interface {
	// AssetCreated is fired when both writes of an upload completed
	AssetCreated(ctx context.Context, asset *Asset) error

	// AssetDeleted is fired after a delete, whatever its outcome
	AssetDeleted(ctx context.Context, result *DeleteResult) error

	// OrphanRecorded is fired when an upload left bytes without metadata
	OrphanRecorded(ctx context.Context, task TaskResult) error
}
