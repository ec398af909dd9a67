package simpleasset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset/pathalloc"
	"golang.org/x/sync/errgroup"
)

// DefaultStoreTimeout bounds every single BlobStore or Catalog call made by a pipeline.
const DefaultStoreTimeout = 30 * time.Second

// UploadConfig configures an UploadPipeline. Zero fields take defaults.
type UploadConfig struct {
	Allocator    PathAllocator
	Policy       UploadPolicy
	Concurrency  int
	StoreTimeout time.Duration
	Logger       *slog.Logger
	EventSink    EventSink
}

// UploadRequest is one batch of files bound for the same namespace.
type UploadRequest struct {
	Namespace  string
	Files      []File
	UsedIn     []string
	UploadedBy string
}

// BatchResult enumerates the outcome of every file in a batch, in input order.
type BatchResult struct {
	Namespace string       `json:"namespace"`
	Tasks     []TaskResult `json:"tasks"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// UploadPipeline writes each file to the blob store and then records it in the catalog.
//
// Files are processed one after another unless Concurrency is above one. In
// both modes a file's catalog write starts only after its own blob write
// returned, and one file's failure never stops the others.
type UploadPipeline struct {
	blobs        BlobStore
	catalog      Catalog
	allocator    PathAllocator
	policy       UploadPolicy
	concurrency  int
	storeTimeout time.Duration
	logger       *slog.Logger
	eventSink    EventSink
}

// NewUploadPipeline creates an upload pipeline over the given stores
func NewUploadPipeline(blobs BlobStore, catalog Catalog, cfg UploadConfig) *UploadPipeline {
	p := &UploadPipeline{
		blobs:        blobs,
		catalog:      catalog,
		allocator:    cfg.Allocator,
		policy:       cfg.Policy,
		concurrency:  cfg.Concurrency,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
		eventSink:    cfg.EventSink,
	}
	if p.allocator == nil {
		p.allocator = pathalloc.NewDefault()
	}
	if p.policy.AllowedMimeTypes == nil {
		p.policy = DefaultUploadPolicy()
	}
	if p.concurrency < 1 {
		p.concurrency = 1
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

// Upload runs every file through validate, allocate, blob put, and catalog create.
// onEach, when non-nil, is called once per file as soon as its outcome is known;
// calls are never concurrent. Per-file failures are recorded in the result and
// never returned as an error.
func (p *UploadPipeline) Upload(ctx context.Context, req UploadRequest, onEach func(TaskResult)) *BatchResult {
	results := make([]TaskResult, len(req.Files))

	var mu sync.Mutex
	report := func(r TaskResult) {
		mu.Lock()
		defer mu.Unlock()
		results[r.Index] = r
		if onEach != nil {
			onEach(r)
		}
	}

	if p.concurrency == 1 {
		for i, f := range req.Files {
			report(p.runTask(ctx, i, f, req))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, f := range req.Files {
			g.Go(func() error {
				report(p.runTask(ctx, i, f, req))
				return nil
			})
		}
		_ = g.Wait()
	}

	batch := &BatchResult{Namespace: pathalloc.NormalizeNamespace(req.Namespace), Tasks: results}
	for _, r := range results {
		if r.Succeeded() {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	p.logger.Info("Upload batch finished",
		"namespace", batch.Namespace,
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"orphans", len(batch.OrphanPaths()))
	return batch
}

func (p *UploadPipeline) runTask(ctx context.Context, index int, f File, req UploadRequest) TaskResult {
	task := TaskResult{Index: index, FileName: f.Name, State: TaskStatePending}

	mimeType, kind, err := p.policy.Validate(f)
	if err != nil {
		return p.fail(ctx, task, StageValidation, err)
	}

	// An abandoned batch stops before writing anything new.
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, task, StageBlob, &BlobStoreError{Op: "put", Err: err})
	}

	path := p.allocator.Allocate(req.Namespace, f.Name)
	task.StoragePath = path

	if err := p.checkPathFree(ctx, path); err != nil {
		return p.fail(ctx, task, StageBlob, &BlobStoreError{Op: "allocate", Path: path, Err: err})
	}

	putCtx, cancel := p.callContext(ctx)
	err = p.blobs.Put(putCtx, path, bytes.NewReader(f.Data), PutOptions{MimeType: mimeType, Size: f.Size()})
	cancel()
	if err != nil {
		return p.fail(ctx, task, StageBlob, &BlobStoreError{Op: "put", Path: path, Err: err})
	}
	task.State = TaskStateBlobWritten

	usedIn := make([]string, 0, len(req.UsedIn))
	usedIn = append(usedIn, req.UsedIn...)
	now := time.Now().UTC()
	asset := &Asset{
		Name:        f.Name,
		Kind:        kind,
		StoragePath: path,
		URL:         p.blobs.PublicURL(path),
		SizeBytes:   f.Size(),
		MimeType:    mimeType,
		UsedIn:      usedIn,
		UploadedBy:  req.UploadedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	createCtx, cancel := p.callContext(ctx)
	err = p.catalog.CreateAsset(createCtx, asset)
	cancel()
	if err != nil {
		if errors.Is(err, ErrDuplicateStoragePath) {
			// Path collision: another record owns the path.
			return p.fail(ctx, task, StageBlob, &BlobStoreError{Op: "allocate", Path: path, Err: err})
		}
		return p.fail(ctx, task, StageCatalog, &CatalogError{Op: "create", Err: err})
	}

	task.State = TaskStateCatalogWritten
	task.Asset = asset

	if err := p.eventSink.AssetCreated(ctx, asset); err != nil {
		p.logger.Warn("Event sink rejected asset created", "asset_id", asset.ID, "error", err)
	}
	return task
}

// checkPathFree refuses a path that already holds an object, when the store
// can tell. The catalog's unique storage path remains the final backstop.
func (p *UploadPipeline) checkPathFree(ctx context.Context, path string) error {
	reader, ok := p.blobs.(BlobReader)
	if !ok {
		return nil
	}
	statCtx, cancel := p.callContext(ctx)
	defer cancel()
	_, err := reader.Stat(statCtx, path)
	switch {
	case err == nil:
		return ErrDuplicateStoragePath
	case IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (p *UploadPipeline) fail(ctx context.Context, task TaskResult, stage Stage, err error) TaskResult {
	task.State = TaskStateFailed
	task.Stage = stage
	task.Err = err
	task.Cause = err.Error()

	if task.Orphaned() {
		p.logger.Error("Upload left orphaned blob",
			"file_name", task.FileName,
			"storage_path", task.StoragePath,
			"error", err)
		if sinkErr := p.eventSink.OrphanRecorded(ctx, task); sinkErr != nil {
			p.logger.Warn("Event sink rejected orphan", "storage_path", task.StoragePath, "error", sinkErr)
		}
		return task
	}

	p.logger.Warn("Upload failed",
		"file_name", task.FileName,
		"stage", stage,
		"storage_path", task.StoragePath,
		"error", err)
	return task
}

func (p *UploadPipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.storeTimeout < 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.storeTimeout)
}

// Total returns the number of files in the batch.
func (b *BatchResult) Total() int {
	return len(b.Tasks)
}

// AllSucceeded reports whether every file was fully written.
func (b *BatchResult) AllSucceeded() bool {
	return b.Failed == 0
}

// Assets returns the assets created by the batch, in input order.
func (b *BatchResult) Assets() []*Asset {
	var assets []*Asset
	for _, t := range b.Tasks {
		if t.Succeeded() {
			assets = append(assets, t.Asset)
		}
	}
	return assets
}

// Failures returns the failed tasks, in input order.
func (b *BatchResult) Failures() []TaskResult {
	var failures []TaskResult
	for _, t := range b.Tasks {
		if !t.Succeeded() {
			failures = append(failures, t)
		}
	}
	return failures
}

// OrphanPaths returns the storage paths holding bytes with no catalog record.
func (b *BatchResult) OrphanPaths() []string {
	var paths []string
	for _, t := range b.Tasks {
		if t.Orphaned() {
			paths = append(paths, t.StoragePath)
		}
	}
	return paths
}

// Summary renders the batch the way it should be shown to an administrator,
// e.g. "3 of 4 uploaded; 1 failed: logo.png (catalog error: ...)".
func (b *BatchResult) Summary() string {
	head := fmt.Sprintf("%d of %d uploaded", b.Succeeded, b.Total())
	if b.Failed == 0 {
		return head
	}
	var parts []string
	for _, t := range b.Failures() {
		parts = append(parts, fmt.Sprintf("%s (%s error: %s)", t.FileName, t.Stage, t.Cause))
	}
	return fmt.Sprintf("%s; %d failed: %s", head, b.Failed, strings.Join(parts, ", "))
}
