package simpleasset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrAssetNotFound indicates an asset was not found in the catalog
	ErrAssetNotFound = errors.New("asset not found")

	// ErrImageNotFound indicates an attached image was not found for the entity
	ErrImageNotFound = errors.New("image not found")

	// ErrBlobNotFound indicates no object exists at the storage path
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDuplicateStoragePath indicates the catalog already holds a record for the path
	ErrDuplicateStoragePath = errors.New("storage path already exists")

	// ErrEmptyFile indicates an upload carried no bytes
	ErrEmptyFile = errors.New("file is empty")

	// ErrFileTooLarge indicates an upload exceeded the size ceiling
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedMimeType indicates the file type is not permitted
	ErrUnsupportedMimeType = errors.New("unsupported file type")

	// ErrCapacityExceeded indicates a gallery has no free slots
	ErrCapacityExceeded = errors.New("gallery capacity exceeded")

	// ErrCoverInvariant indicates a gallery does not hold exactly one cover
	ErrCoverInvariant = errors.New("gallery must have exactly one cover")

	// ErrInvalidIndex indicates a pending index is out of range
	ErrInvalidIndex = errors.New("invalid pending index")

	// ErrPathInUse indicates a purge targeted bytes a catalog record still owns
	ErrPathInUse = errors.New("storage path is still referenced")

	// ErrNoImageStore indicates gallery operations were used without an ImageStore
	ErrNoImageStore = errors.New("image store not configured")
)

// IsNotFound reports whether err means the addressed record or object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrImageNotFound) ||
		errors.Is(err, ErrBlobNotFound)
}

// ValidationError represents a file rejected before touching either store
type ValidationError struct {
	FileName string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.FileName, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BlobStoreError represents a failure writing, reading, or deleting bytes
type BlobStoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *BlobStoreError) Error() string {
	return fmt.Sprintf("blob operation %s failed for path %s: %v", e.Op, e.Path, e.Err)
}

func (e *BlobStoreError) Unwrap() error {
	return e.Err
}

// CatalogError represents a failure reading or writing asset metadata
type CatalogError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *CatalogError) Error() string {
	if e.AssetID == uuid.Nil {
		return fmt.Sprintf("catalog operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("catalog operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// ImageStoreError represents a failure in the entity image capability
type ImageStoreError struct {
	EntityID string
	ImageID  uuid.UUID
	Op       string
	Err      error
}

func (e *ImageStoreError) Error() string {
	if e.ImageID == uuid.Nil {
		return fmt.Sprintf("image operation %s failed for entity %s: %v", e.Op, e.EntityID, e.Err)
	}
	return fmt.Sprintf("image operation %s failed for entity %s image %s: %v", e.Op, e.EntityID, e.ImageID, e.Err)
}

func (e *ImageStoreError) Unwrap() error {
	return e.Err
}

// CapacityError represents a request that would break the slot or cover invariant.
// For truncated selections Accepted holds how many files were kept.
type CapacityError struct {
	EntityID  string
	Limit     int
	Requested int
	Accepted  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("maximum %d images allowed for %s: only first %d of %d added", e.Limit, e.EntityID, e.Accepted, e.Requested)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}
