package simpleasset

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	catalog      Catalog
	blobStore    BlobStore
	imageStore   ImageStore
	allocator    PathAllocator
	eventSink    EventSink
	logger       *slog.Logger
	policy       UploadPolicy
	concurrency  int
	storeTimeout time.Duration

	galleryNamespace string
	maxSlots         int

	uploads        *UploadPipeline
	galleryUploads *UploadPipeline
	deletes        *DeletePipeline
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithCatalog sets the asset catalog
func WithCatalog(catalog Catalog) Option {
	return func(s *service) {
		s.catalog = catalog
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithImageStore sets the entity image capability used by galleries
func WithImageStore(store ImageStore) Option {
	return func(s *service) {
		s.imageStore = store
	}
}

// WithAllocator sets the storage path allocator
func WithAllocator(allocator PathAllocator) Option {
	return func(s *service) {
		s.allocator = allocator
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithUploadPolicy sets the size ceiling and permitted types
func WithUploadPolicy(policy UploadPolicy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithConcurrency lets an upload batch process up to n files at once
func WithConcurrency(n int) Option {
	return func(s *service) {
		s.concurrency = n
	}
}

// WithStoreTimeout bounds each individual store call. A negative value disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *service) {
		s.storeTimeout = d
	}
}

// WithGallery sets the upload namespace and slot count of entity galleries
func WithGallery(namespace string, maxSlots int) Option {
	return func(s *service) {
		s.galleryNamespace = namespace
		s.maxSlots = maxSlots
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		galleryNamespace: DefaultGalleryNamespace,
		maxSlots:         MaxSlots,
	}

	for _, option := range options {
		option(s)
	}

	if s.catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}

	s.uploads = NewUploadPipeline(s.blobStore, s.catalog, UploadConfig{
		Allocator:    s.allocator,
		Policy:       s.policy,
		Concurrency:  s.concurrency,
		StoreTimeout: s.storeTimeout,
		Logger:       s.logger,
		EventSink:    s.eventSink,
	})
	// Galleries hold images only.
	s.galleryUploads = NewUploadPipeline(s.blobStore, s.catalog, UploadConfig{
		Allocator:    s.allocator,
		Policy:       s.uploads.policy.ImageOnly(),
		Concurrency:  s.concurrency,
		StoreTimeout: s.storeTimeout,
		Logger:       s.logger,
		EventSink:    s.eventSink,
	})
	s.deletes = NewDeletePipeline(s.blobStore, s.catalog, DeleteConfig{
		StoreTimeout: s.storeTimeout,
		Logger:       s.logger,
		EventSink:    s.eventSink,
	})

	return s, nil
}

func (s *service) Upload(ctx context.Context, req UploadRequest, onEach func(TaskResult)) *BatchResult {
	return s.uploads.Upload(ctx, req, onEach)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) (*DeleteResult, error) {
	return s.deletes.Delete(ctx, id)
}

func (s *service) PurgeBlob(ctx context.Context, path string) error {
	return s.deletes.PurgeBlob(ctx, path)
}

func (s *service) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	asset, err := s.catalog.GetAsset(ctx, id)
	if err != nil {
		return nil, &CatalogError{AssetID: id, Op: "get", Err: err}
	}
	return asset, nil
}

func (s *service) ListAssets(ctx context.Context, filters ListFilters) (*AssetPage, error) {
	page, err := s.catalog.ListAssets(ctx, filters.Normalize())
	if err != nil {
		return nil, &CatalogError{Op: "list", Err: err}
	}
	return page, nil
}

// UpdateUsage replaces the asset's usage tags. Blank and repeated tags are dropped.
func (s *service) UpdateUsage(ctx context.Context, id uuid.UUID, usedIn []string) (*Asset, error) {
	asset, err := s.catalog.GetAsset(ctx, id)
	if err != nil {
		return nil, &CatalogError{AssetID: id, Op: "get", Err: err}
	}

	asset.UsedIn = normalizeTags(usedIn)
	asset.UpdatedAt = time.Now().UTC()
	if err := s.catalog.UpdateAsset(ctx, asset); err != nil {
		return nil, &CatalogError{AssetID: id, Op: "update_usage", Err: err}
	}
	return asset, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	assets, err := s.allAssets(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(assets)
	return &stats, nil
}

func (s *service) Orphans(ctx context.Context) ([]*Asset, error) {
	assets, err := s.allAssets(ctx)
	if err != nil {
		return nil, err
	}
	return Classify(assets).Orphaned, nil
}

func (s *service) Gallery(ctx context.Context, entityID string) (*AttachmentSet, error) {
	if s.imageStore == nil {
		return nil, ErrNoImageStore
	}
	set := NewAttachmentSet(entityID, s.imageStore, s.galleryUploads,
		WithGalleryNamespace(s.galleryNamespace),
		WithMaxSlots(s.maxSlots),
		WithGalleryLogger(s.logger),
	)
	if err := set.Load(ctx); err != nil {
		return nil, err
	}
	return set, nil
}

// AttachAsset binds a catalog asset to the entity's gallery and records the
// entity in the asset's usage tags.
func (s *service) AttachAsset(ctx context.Context, entityID string, assetID uuid.UUID) (*AttachedImage, error) {
	asset, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	set, err := s.Gallery(ctx, entityID)
	if err != nil {
		return nil, err
	}
	img, err := set.AttachAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(asset.UsedIn, entityID) {
		if _, err := s.UpdateUsage(ctx, assetID, append(slices.Clone(asset.UsedIn), entityID)); err != nil {
			// The image is attached; only the usage tag is stale.
			s.logger.Error("Failed to record asset usage", "asset_id", assetID, "entity_id", entityID, "error", err)
		}
	}
	return img, nil
}

// RemoveGallery drops every image of a destroyed entity and removes the
// entity from the usage tags of the assets those images pointed at. The
// assets themselves are kept; they may become orphans.
func (s *service) RemoveGallery(ctx context.Context, entityID string) ([]*AttachedImage, error) {
	if s.imageStore == nil {
		return nil, ErrNoImageStore
	}
	removed, err := s.imageStore.DeleteEntityImages(ctx, entityID)
	if err != nil {
		return nil, &ImageStoreError{EntityID: entityID, Op: "delete_all", Err: err}
	}

	for _, img := range removed {
		if img.AssetID != nil {
			s.clearUsage(ctx, *img.AssetID, entityID)
		}
	}

	s.logger.Info("Gallery removed", "entity_id", entityID, "images", len(removed))
	return removed, nil
}

// RemoveImage deletes one committed image and removes the entity from the
// asset's usage tags unless another image of the entity still points at it.
func (s *service) RemoveImage(ctx context.Context, entityID string, imageID uuid.UUID) (*AttachmentSet, error) {
	set, err := s.Gallery(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var assetID *uuid.UUID
	for _, img := range set.Committed() {
		if img.ID == imageID {
			assetID = img.AssetID
			break
		}
	}
	if err := set.RemoveCommitted(ctx, imageID); err != nil {
		return nil, err
	}
	if assetID == nil {
		return set, nil
	}

	for _, img := range set.Committed() {
		if img.AssetID != nil && *img.AssetID == *assetID {
			return set, nil
		}
	}
	s.clearUsage(ctx, *assetID, entityID)
	return set, nil
}

// clearUsage drops entityID from the asset's usage tags. Failures are logged;
// the image change they follow has already happened.
func (s *service) clearUsage(ctx context.Context, assetID uuid.UUID, entityID string) {
	asset, err := s.catalog.GetAsset(ctx, assetID)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("Failed to load asset for usage cleanup", "asset_id", assetID, "error", err)
		}
		return
	}
	remaining := slices.DeleteFunc(slices.Clone(asset.UsedIn), func(tag string) bool { return tag == entityID })
	if len(remaining) == len(asset.UsedIn) {
		return
	}
	if _, err := s.UpdateUsage(ctx, asset.ID, remaining); err != nil {
		s.logger.Error("Failed to clear asset usage", "asset_id", asset.ID, "entity_id", entityID, "error", err)
	}
}

// allAssets pages through the whole catalog. Stats are a fold over current
// data, so this runs on every read.
func (s *service) allAssets(ctx context.Context) ([]*Asset, error) {
	var all []*Asset
	filters := ListFilters{Page: 1, PageSize: MaxPageSize}.Normalize()
	for {
		page, err := s.catalog.ListAssets(ctx, filters)
		if err != nil {
			return nil, &CatalogError{Op: "list", Err: err}
		}
		all = append(all, page.Assets...)
		if !page.HasNext || len(page.Assets) == 0 {
			return all, nil
		}
		filters.Page++
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
