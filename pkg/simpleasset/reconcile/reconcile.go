// Package reconcile finds and optionally repairs the inconsistencies the
// upload and delete pipelines can leave between the blob store and the
// catalog: blobs no record points at, and records whose blob is gone.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DefaultMinAge keeps blobs and records written moments ago out of the
// report, since an upload in flight holds its blob before its catalog record
// and a record created during the sweep may postdate the blob listing.
const DefaultMinAge = 10 * time.Minute

// FindingKind names which half of an asset is dangling.
type FindingKind string

const (
	// OrphanBlob is stored bytes with no catalog record
	OrphanBlob FindingKind = "orphan_blob"
	// MissingBlob is a catalog record whose bytes are gone
	MissingBlob FindingKind = "missing_blob"
)

// Finding is one inconsistency.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	StoragePath string      `json:"storage_path"`
	AssetID     uuid.UUID   `json:"asset_id,omitempty"`
	SizeBytes   int64       `json:"size_bytes"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Repaired    bool        `json:"repaired"`
	Error       string      `json:"error,omitempty"`
}

// Repairer fixes findings. simpleasset.Service implements it.
type Repairer interface {
	PurgeBlob(ctx context.Context, path string) error
	Delete(ctx context.Context, id uuid.UUID) (*simpleasset.DeleteResult, error)
}

// Options configures a reconciliation run.
type Options struct {
	// Prefix limits the run to one namespace, e.g. "fragrances/"
	Prefix string

	// MinAge skips blobs younger than this (default: DefaultMinAge)
	MinAge time.Duration

	// BatchSize controls how many catalog records are read at once (default: 100)
	BatchSize int

	// PurgeOrphans deletes orphan blobs through the Repairer
	PurgeOrphans bool

	// DropMissing deletes catalog records whose blob is gone
	DropMissing bool

	// DryRun reports what would be repaired without touching either store
	DryRun bool

	// OnProgress is called after each catalog batch (optional)
	OnProgress func(checked, total int64)
}

// Result contains statistics about a reconciliation run.
type Result struct {
	BlobsChecked  int64     `json:"blobs_checked"`
	AssetsChecked int64     `json:"assets_checked"`
	SkippedRecent int64     `json:"skipped_recent"`
	Findings      []Finding `json:"findings"`
	Repaired      int64     `json:"repaired"`
	Failed        int64     `json:"failed"`
}

// Count returns how many findings are of kind
func (r *Result) Count(kind FindingKind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Reconciler compares a listable blob store with the catalog.
type Reconciler struct {
	catalog  simpleasset.Catalog
	blobs    simpleasset.BlobLister
	repairer Repairer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithRepairer sets what repairs findings. Without one, runs only report.
func WithRepairer(r Repairer) Option {
	return func(rc *Reconciler) {
		rc.repairer = r
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(rc *Reconciler) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

// WithClock overrides time.Now for age checks
func WithClock(now func() time.Time) Option {
	return func(rc *Reconciler) {
		rc.now = now
	}
}

// New creates a Reconciler.
func New(catalog simpleasset.Catalog, blobs simpleasset.BlobLister, opts ...Option) *Reconciler {
	rc := &Reconciler{
		catalog: catalog,
		blobs:   blobs,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Run lists every blob under the prefix and pages through the catalog,
// reporting both kinds of findings. Repairs happen after both passes so
// deletes never shift the catalog pages being read.
func (rc *Reconciler) Run(ctx context.Context, opts Options) (*Result, error) {
	if (opts.PurgeOrphans || opts.DropMissing) && !opts.DryRun && rc.repairer == nil {
		return nil, fmt.Errorf("repairer is required unless DryRun is set")
	}
	if opts.MinAge == 0 {
		opts.MinAge = DefaultMinAge
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	result := &Result{}

	// Taken before listing: records created after it may have bytes the
	// listing never saw.
	cutoff := rc.now().Add(-opts.MinAge)
	objects, err := rc.blobs.List(ctx, opts.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	stored := make(map[string]struct{}, len(objects))

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		stored[obj.Path] = struct{}{}
		result.BlobsChecked++

		if obj.UpdatedAt.After(cutoff) {
			result.SkippedRecent++
			continue
		}
		_, err := rc.catalog.GetAssetByStoragePath(ctx, obj.Path)
		switch {
		case err == nil:
		case simpleasset.IsNotFound(err):
			result.Findings = append(result.Findings, Finding{
				Kind:        OrphanBlob,
				StoragePath: obj.Path,
				SizeBytes:   obj.Size,
				UpdatedAt:   obj.UpdatedAt,
			})
		default:
			return result, fmt.Errorf("failed to look up %s: %w", obj.Path, err)
		}
	}

	filters := simpleasset.ListFilters{Page: 1, PageSize: opts.BatchSize, SortBy: simpleasset.SortByCreatedAt, SortAsc: true}.Normalize()
	for {
		page, err := rc.catalog.ListAssets(ctx, filters)
		if err != nil {
			return result, fmt.Errorf("failed to list assets: %w", err)
		}
		for _, asset := range page.Assets {
			if !strings.HasPrefix(asset.StoragePath, opts.Prefix) {
				continue
			}
			result.AssetsChecked++
			if _, ok := stored[asset.StoragePath]; ok {
				continue
			}
			if asset.CreatedAt.After(cutoff) {
				result.SkippedRecent++
				continue
			}
			result.Findings = append(result.Findings, Finding{
				Kind:        MissingBlob,
				StoragePath: asset.StoragePath,
				AssetID:     asset.ID,
				SizeBytes:   asset.SizeBytes,
				UpdatedAt:   asset.UpdatedAt,
			})
		}
		if opts.OnProgress != nil {
			opts.OnProgress(int64(filters.Offset()+len(page.Assets)), page.Total)
		}
		if !page.HasNext || len(page.Assets) == 0 {
			break
		}
		filters.Page++
	}

	for i := range result.Findings {
		rc.repair(ctx, &result.Findings[i], opts, result)
	}

	rc.logger.Info("Reconciliation finished",
		"prefix", opts.Prefix,
		"blobs_checked", result.BlobsChecked,
		"assets_checked", result.AssetsChecked,
		"orphan_blobs", result.Count(OrphanBlob),
		"missing_blobs", result.Count(MissingBlob),
		"repaired", result.Repaired,
		"failed", result.Failed,
		"dry_run", opts.DryRun)
	return result, nil
}

func (rc *Reconciler) repair(ctx context.Context, f *Finding, opts Options, result *Result) {
	wanted := (f.Kind == OrphanBlob && opts.PurgeOrphans) || (f.Kind == MissingBlob && opts.DropMissing)
	if !wanted {
		rc.logger.Warn("Inconsistency found", "kind", f.Kind, "storage_path", f.StoragePath, "asset_id", f.AssetID)
		return
	}
	if opts.DryRun {
		rc.logger.Info("[DRY-RUN] Would repair", "kind", f.Kind, "storage_path", f.StoragePath, "asset_id", f.AssetID)
		return
	}

	var err error
	switch f.Kind {
	case OrphanBlob:
		err = rc.repairer.PurgeBlob(ctx, f.StoragePath)
	case MissingBlob:
		var res *simpleasset.DeleteResult
		res, err = rc.repairer.Delete(ctx, f.AssetID)
		if err == nil && !res.Complete() {
			err = res.Err()
		}
	}
	if err != nil {
		result.Failed++
		f.Error = err.Error()
		rc.logger.Error("Failed to repair", "kind", f.Kind, "storage_path", f.StoragePath, "error", err)
		return
	}
	f.Repaired = true
	result.Repaired++
}
