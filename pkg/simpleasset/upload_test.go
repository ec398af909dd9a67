package simpleasset_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/pathalloc"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

// writeOnlyStore hides the BlobReader methods of the wrapped store
type writeOnlyStore struct {
	simpleasset.BlobStore
}

// blockingStore never finishes a Put until its context ends
type blockingStore struct {
	*memorystorage.Backend
}

func (s *blockingStore) Put(ctx context.Context, path string, r io.Reader, opts simpleasset.PutOptions) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestUpload_AllFilesSucceed(t *testing.T) {
	store := memorystorage.New()
	repo := memory.New()
	sink := &recordingSink{}
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{EventSink: sink})
	ctx := context.Background()

	files := []simpleasset.File{
		pngFile("front.png", 128),
		pngFile("side.png", 256),
		{Name: "clip.mp4", MimeType: "video/mp4", Data: []byte("....ftypmp42 video bytes")},
	}

	var seen []int
	batch := pipeline.Upload(ctx, simpleasset.UploadRequest{
		Namespace:  "fragrances",
		Files:      files,
		UsedIn:     []string{"fragrance-1"},
		UploadedBy: "admin@example.com",
	}, func(r simpleasset.TaskResult) {
		seen = append(seen, r.Index)
	})

	require.True(t, batch.AllSucceeded(), batch.Summary())
	assert.Equal(t, 3, batch.Succeeded)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, "3 of 3 uploaded", batch.Summary())
	assert.Empty(t, batch.OrphanPaths())

	for i, task := range batch.Tasks {
		assert.Equal(t, simpleasset.TaskStateCatalogWritten, task.State)
		require.NotNil(t, task.Asset)
		asset := task.Asset
		assert.True(t, strings.HasPrefix(asset.StoragePath, "fragrances/"), asset.StoragePath)
		assert.Equal(t, store.PublicURL(asset.StoragePath), asset.URL)
		assert.Equal(t, []string{"fragrance-1"}, asset.UsedIn)
		assert.Equal(t, "admin@example.com", asset.UploadedBy)

		info, err := store.Stat(ctx, asset.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, asset.SizeBytes, info.Size)
		assert.Equal(t, files[i].Data, readBlob(t, store, asset.StoragePath))

		stored, err := repo.GetAssetByStoragePath(ctx, asset.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, asset.ID, stored.ID)
	}

	assert.Equal(t, simpleasset.AssetKindImage, batch.Tasks[0].Asset.Kind)
	assert.Equal(t, simpleasset.AssetKindVideo, batch.Tasks[2].Asset.Kind)
	assert.Len(t, sink.created, 3)
	assert.Len(t, batch.Assets(), 3)
}

func TestUpload_ValidationFailuresDoNotStopBatch(t *testing.T) {
	store := memorystorage.New()
	repo := memory.New()
	policy := simpleasset.DefaultUploadPolicy()
	policy.MaxFileSize = 1024
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{Policy: policy})

	files := []simpleasset.File{
		pngFile("ok.png", 64),
		{Name: "empty.png", MimeType: "image/png"},
		pngFile("huge.png", 4096),
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
		{Name: "sniffed", Data: pngFile("x", 32).Data},
	}

	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{Namespace: "uploads", Files: files}, nil)

	assert.Equal(t, len(files), batch.Succeeded+batch.Failed)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 3, batch.Failed)

	tests := []struct {
		index int
		err   error
	}{
		{1, simpleasset.ErrEmptyFile},
		{2, simpleasset.ErrFileTooLarge},
		{3, simpleasset.ErrUnsupportedMimeType},
	}
	for _, tt := range tests {
		task := batch.Tasks[tt.index]
		assert.Equal(t, simpleasset.StageValidation, task.Stage, task.FileName)
		assert.ErrorIs(t, task.Err, tt.err)
		assert.Empty(t, task.StoragePath, "validation failures never allocate a path")
		assert.False(t, task.Orphaned())
	}

	assert.Equal(t, "image/png", batch.Tasks[4].Asset.MimeType)
	assert.Equal(t, 2, store.Len())
}

func TestUpload_CatalogFailureLeavesIdentifiableOrphan(t *testing.T) {
	store, repo := newFaultyStores()
	repo.createErr = func(asset *simpleasset.Asset) error {
		if asset.Name == "b.png" {
			return errors.New("connection reset")
		}
		return nil
	}
	sink := &recordingSink{}
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{EventSink: sink})
	ctx := context.Background()

	batch := pipeline.Upload(ctx, simpleasset.UploadRequest{
		Namespace: "fragrances",
		Files:     []simpleasset.File{pngFile("a.png", 64), pngFile("b.png", 64)},
	}, nil)

	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)

	failed := batch.Tasks[1]
	assert.Equal(t, simpleasset.TaskStateFailed, failed.State)
	assert.Equal(t, simpleasset.StageCatalog, failed.Stage)
	assert.True(t, failed.Orphaned())
	require.NotEmpty(t, failed.StoragePath)
	assert.Equal(t, []string{failed.StoragePath}, batch.OrphanPaths())

	var catalogErr *simpleasset.CatalogError
	assert.ErrorAs(t, failed.Err, &catalogErr)

	// The bytes are there but nothing in the catalog points at them.
	_, err := store.Stat(ctx, failed.StoragePath)
	require.NoError(t, err)
	_, err = repo.GetAssetByStoragePath(ctx, failed.StoragePath)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	require.Len(t, sink.orphans, 1)
	assert.Equal(t, failed.StoragePath, sink.orphans[0].StoragePath)
	assert.True(t, strings.HasPrefix(batch.Summary(), "1 of 2 uploaded; 1 failed: b.png (catalog error: "), batch.Summary())
}

func TestUpload_BlobFailureWritesNoMetadata(t *testing.T) {
	store := memorystorage.New()
	catalog := &MockCatalog{}
	failing := &faultyBlobStore{
		Backend: store,
		putErr:  func(string) error { return errors.New("bucket unavailable") },
	}
	pipeline := simpleasset.NewUploadPipeline(failing, catalog, simpleasset.UploadConfig{})

	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{
		Files: []simpleasset.File{pngFile("a.png", 64)},
	}, nil)

	require.Equal(t, 1, batch.Failed)
	task := batch.Tasks[0]
	assert.Equal(t, simpleasset.StageBlob, task.Stage)
	assert.False(t, task.Orphaned())
	assert.ErrorContains(t, task.Err, "bucket unavailable")

	var blobErr *simpleasset.BlobStoreError
	require.ErrorAs(t, task.Err, &blobErr)
	assert.Equal(t, "put", blobErr.Op)
	assert.Equal(t, task.StoragePath, blobErr.Path)

	catalog.AssertNotCalled(t, "CreateAsset", mock.Anything, mock.Anything)
	assert.Equal(t, 0, store.Len())
}

func TestUpload_CatalogReceivesDerivedRecord(t *testing.T) {
	store := memorystorage.NewWithBaseURL("https://cdn.example.com/")
	catalog := &MockCatalog{}
	catalog.On("CreateAsset", mock.Anything, mock.MatchedBy(func(a *simpleasset.Asset) bool {
		return a.Name == "bottle.png" &&
			a.Kind == simpleasset.AssetKindImage &&
			a.MimeType == "image/png" &&
			a.SizeBytes == 64 &&
			a.URL == "https://cdn.example.com/"+a.StoragePath &&
			slices.Equal(a.UsedIn, []string{"fragrance-9"})
	})).Return(nil).Once()

	pipeline := simpleasset.NewUploadPipeline(store, catalog, simpleasset.UploadConfig{})
	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{
		Namespace: "fragrances",
		Files:     []simpleasset.File{pngFile("bottle.png", 64)},
		UsedIn:    []string{"fragrance-9"},
	}, nil)

	assert.True(t, batch.AllSucceeded(), batch.Summary())
	catalog.AssertExpectations(t)
}

func TestUpload_PathCollisionNeverOverwrites(t *testing.T) {
	store := memorystorage.New()
	repo := memory.New()
	fixed := pathalloc.NewFuncAllocator(func(namespace, fileName string) string {
		return "fragrances/fixed.png"
	})
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{Allocator: fixed})
	ctx := context.Background()

	first := pngFile("first.png", 64)
	second := pngFile("second.png", 96)
	batch := pipeline.Upload(ctx, simpleasset.UploadRequest{Files: []simpleasset.File{first, second}}, nil)

	assert.Equal(t, 1, batch.Succeeded)
	task := batch.Tasks[1]
	assert.Equal(t, simpleasset.StageBlob, task.Stage)
	assert.ErrorIs(t, task.Err, simpleasset.ErrDuplicateStoragePath)
	assert.False(t, task.Orphaned())
	assert.Equal(t, first.Data, readBlob(t, store, "fragrances/fixed.png"))
}

func TestUpload_PathCollisionCaughtByCatalog(t *testing.T) {
	repo := memory.New()
	fixed := pathalloc.NewFuncAllocator(func(namespace, fileName string) string {
		return "fragrances/fixed.png"
	})
	store := writeOnlyStore{BlobStore: memorystorage.New()}
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{Allocator: fixed})

	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{
		Files: []simpleasset.File{pngFile("first.png", 64), pngFile("second.png", 64)},
	}, nil)

	assert.Equal(t, 1, batch.Succeeded)
	task := batch.Tasks[1]
	assert.Equal(t, simpleasset.StageBlob, task.Stage)
	assert.ErrorIs(t, task.Err, simpleasset.ErrDuplicateStoragePath)
	assert.Empty(t, batch.OrphanPaths())
}

func TestUpload_ConcurrentBatchKeepsInputOrder(t *testing.T) {
	store, repo := newFaultyStores()
	repo.createErr = func(asset *simpleasset.Asset) error {
		if asset.Name == "file-3.png" {
			return errors.New("deadlock detected")
		}
		return nil
	}
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{Concurrency: 4})

	var files []simpleasset.File
	for i := 0; i < 10; i++ {
		files = append(files, pngFile(fmt.Sprintf("file-%d.png", i), 64+i))
	}

	var active, calls int32
	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{Files: files}, func(r simpleasset.TaskResult) {
		assert.Equal(t, int32(1), atomic.AddInt32(&active, 1), "callbacks must not overlap")
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&calls, 1)
		atomic.AddInt32(&active, -1)
	})

	assert.Equal(t, int32(10), calls)
	assert.Equal(t, 9, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	for i, task := range batch.Tasks {
		assert.Equal(t, i, task.Index)
		assert.Equal(t, files[i].Name, task.FileName)
	}
	assert.Equal(t, simpleasset.StageCatalog, batch.Tasks[3].Stage)
	assert.Len(t, batch.OrphanPaths(), 1)
}

func TestUpload_CancelledContextWritesNothing(t *testing.T) {
	store := memorystorage.New()
	repo := memory.New()
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := pipeline.Upload(ctx, simpleasset.UploadRequest{
		Files: []simpleasset.File{pngFile("a.png", 64), pngFile("b.png", 64)},
	}, nil)

	assert.Equal(t, 2, batch.Failed)
	for _, task := range batch.Tasks {
		assert.Equal(t, simpleasset.StageBlob, task.Stage)
		assert.ErrorIs(t, task.Err, context.Canceled)
	}
	assert.Equal(t, 0, store.Len())
}

func TestUpload_StoreTimeoutBoundsEachCall(t *testing.T) {
	store := &blockingStore{Backend: memorystorage.New()}
	repo := memory.New()
	pipeline := simpleasset.NewUploadPipeline(store, repo, simpleasset.UploadConfig{StoreTimeout: 20 * time.Millisecond})

	start := time.Now()
	batch := pipeline.Upload(context.Background(), simpleasset.UploadRequest{
		Files: []simpleasset.File{pngFile("slow.png", 64)},
	}, nil)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 1, batch.Failed)
	assert.Equal(t, simpleasset.StageBlob, batch.Tasks[0].Stage)
	assert.ErrorIs(t, batch.Tasks[0].Err, context.DeadlineExceeded)
}

func TestBatchResult_Summary(t *testing.T) {
	batch := &simpleasset.BatchResult{
		Tasks: []simpleasset.TaskResult{
			{Index: 0, FileName: "a.png", State: simpleasset.TaskStateCatalogWritten},
			{Index: 1, FileName: "b.png", State: simpleasset.TaskStateCatalogWritten},
			{Index: 2, FileName: "c.png", State: simpleasset.TaskStateCatalogWritten},
			{Index: 3, FileName: "logo.png", State: simpleasset.TaskStateFailed, Stage: simpleasset.StageBlob, Cause: "access denied"},
		},
		Succeeded: 3,
		Failed:    1,
	}
	assert.Equal(t, 4, batch.Total())
	assert.False(t, batch.AllSucceeded())
	assert.Equal(t, "3 of 4 uploaded; 1 failed: logo.png (blob error: access denied)", batch.Summary())
}
