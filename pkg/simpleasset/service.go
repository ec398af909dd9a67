package simpleasset

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-asset library
type Service interface {
	// Upload and delete pipelines
	Upload(ctx context.Context, req UploadRequest, onEach func(TaskResult)) *BatchResult
	Delete(ctx context.Context, id uuid.UUID) (*DeleteResult, error)
	PurgeBlob(ctx context.Context, path string) error

	// Catalog reads and usage tracking
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	ListAssets(ctx context.Context, filters ListFilters) (*AssetPage, error)
	UpdateUsage(ctx context.Context, id uuid.UUID, usedIn []string) (*Asset, error)
	Stats(ctx context.Context) (*Stats, error)
	Orphans(ctx context.Context) ([]*Asset, error)

	// Entity galleries
	Gallery(ctx context.Context, entityID string) (*AttachmentSet, error)
	AttachAsset(ctx context.Context, entityID string, assetID uuid.UUID) (*AttachedImage, error)
	RemoveImage(ctx context.Context, entityID string, imageID uuid.UUID) (*AttachmentSet, error)
	RemoveGallery(ctx context.Context, entityID string) ([]*AttachedImage, error)
}
