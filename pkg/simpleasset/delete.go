package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DeleteConfig configures a DeletePipeline. Zero fields take defaults.
type DeleteConfig struct {
	StoreTimeout time.Duration
	Logger       *slog.Logger
	EventSink    EventSink
}

// DeletePipeline removes an asset's bytes and its catalog record.
//
// The two deletes are independent: both are always attempted and a missing
// object or row counts as already deleted, so retrying a partial delete only
// repeats the half that failed.
type DeletePipeline struct {
	blobs        BlobStore
	catalog      Catalog
	storeTimeout time.Duration
	logger       *slog.Logger
	eventSink    EventSink
}

// NewDeletePipeline creates a delete pipeline over the given stores
func NewDeletePipeline(blobs BlobStore, catalog Catalog, cfg DeleteConfig) *DeletePipeline {
	p := &DeletePipeline{
		blobs:        blobs,
		catalog:      catalog,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
		eventSink:    cfg.EventSink,
	}
	if p.storeTimeout == 0 {
		p.storeTimeout = DefaultStoreTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.eventSink == nil {
		p.eventSink = NewNoopEventSink()
	}
	return p
}

// Delete looks the asset up and tears it down. An asset that does not exist
// yields a noop result. The error is non-nil only when the lookup itself
// failed; store failures during teardown are reported in the result.
func (p *DeletePipeline) Delete(ctx context.Context, id uuid.UUID) (*DeleteResult, error) {
	getCtx, cancel := p.callContext(ctx)
	asset, err := p.catalog.GetAsset(getCtx, id)
	cancel()
	if err != nil {
		if IsNotFound(err) {
			p.logger.Info("Asset already deleted", "asset_id", id)
			return &DeleteResult{AssetID: id, Outcome: DeleteOutcomeNoop}, nil
		}
		return nil, &CatalogError{AssetID: id, Op: "get", Err: err}
	}
	return p.DeleteAsset(ctx, asset), nil
}

// DeleteAsset tears down an asset the caller already holds.
func (p *DeletePipeline) DeleteAsset(ctx context.Context, asset *Asset) *DeleteResult {
	// Logged before any destructive call so a blob remnant stays nameable.
	p.logger.Info("Deleting asset",
		"asset_id", asset.ID,
		"storage_path", asset.StoragePath,
		"url", asset.URL)

	result := &DeleteResult{
		AssetID:     asset.ID,
		StoragePath: asset.StoragePath,
		URL:         asset.URL,
	}

	blobCtx, cancel := p.callContext(ctx)
	err := p.blobs.Delete(blobCtx, asset.StoragePath)
	cancel()
	if err != nil && !IsNotFound(err) {
		result.BlobErr = &BlobStoreError{Op: "delete", Path: asset.StoragePath, Err: err}
	}

	catalogCtx, cancel := p.callContext(ctx)
	err = p.catalog.DeleteAsset(catalogCtx, asset.ID)
	cancel()
	if err != nil && !IsNotFound(err) {
		result.CatalogErr = &CatalogError{AssetID: asset.ID, Op: "delete", Err: err}
	}

	switch {
	case result.BlobErr == nil && result.CatalogErr == nil:
		result.Outcome = DeleteOutcomeFully
	case result.BlobErr != nil && result.CatalogErr == nil:
		result.Outcome = DeleteOutcomePartially
		result.Remnant = RemnantBlob
	case result.BlobErr == nil && result.CatalogErr != nil:
		result.Outcome = DeleteOutcomePartially
		result.Remnant = RemnantMetadata
	default:
		result.Outcome = DeleteOutcomeNone
		result.Remnant = RemnantBoth
	}

	if result.Complete() {
		p.logger.Info("Asset deleted", "asset_id", asset.ID, "storage_path", asset.StoragePath)
	} else {
		p.logger.Error("Failed to fully delete asset",
			"asset_id", asset.ID,
			"storage_path", asset.StoragePath,
			"outcome", result.Outcome,
			"remnant", result.Remnant,
			"error", result.Err())
	}

	if err := p.eventSink.AssetDeleted(ctx, result); err != nil {
		p.logger.Warn("Event sink rejected asset deleted", "asset_id", asset.ID, "error", err)
	}
	return result
}

// PurgeBlob deletes bytes at path that no catalog record points to, such as
// the orphan left by a catalog-stage upload failure or a blob remnant.
// A path still owned by an asset is refused. A missing object is not an error.
func (p *DeletePipeline) PurgeBlob(ctx context.Context, path string) error {
	lookupCtx, cancel := p.callContext(ctx)
	owner, err := p.catalog.GetAssetByStoragePath(lookupCtx, path)
	cancel()
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s by asset %s", ErrPathInUse, path, owner.ID)
	case !IsNotFound(err):
		return &CatalogError{Op: "get_by_path", Err: err}
	}

	p.logger.Info("Purging orphaned blob", "storage_path", path)
	deleteCtx, cancel := p.callContext(ctx)
	err = p.blobs.Delete(deleteCtx, path)
	cancel()
	if err != nil && !IsNotFound(err) {
		return &BlobStoreError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (p *DeletePipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.storeTimeout < 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.storeTimeout)
}

// Err joins whichever halves of the delete failed, or returns nil.
func (r *DeleteResult) Err() error {
	return errors.Join(r.BlobErr, r.CatalogErr)
}

// Summary renders the result for an administrator.
func (r *DeleteResult) Summary() string {
	switch r.Outcome {
	case DeleteOutcomeFully:
		return "deleted"
	case DeleteOutcomeNoop:
		return "already deleted"
	case DeleteOutcomePartially:
		return fmt.Sprintf("partially deleted: %s remnant at %s", r.Remnant, r.StoragePath)
	default:
		return fmt.Sprintf("not deleted: %v", r.Err())
	}
}
