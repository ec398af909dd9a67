package simpleasset_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// pngFile builds a file whose bytes sniff as image/png
func pngFile(name string, size int) simpleasset.File {
	data := make([]byte, size)
	copy(data, pngSignature)
	return simpleasset.File{Name: name, MimeType: "image/png", Data: data}
}

// faultyBlobStore delegates to an in-memory store and fails chosen calls
type faultyBlobStore struct {
	*memorystorage.Backend
	putErr    func(path string) error
	deleteErr func(path string) error
}

func (s *faultyBlobStore) Put(ctx context.Context, path string, r io.Reader, opts simpleasset.PutOptions) error {
	if s.putErr != nil {
		if err := s.putErr(path); err != nil {
			return err
		}
	}
	return s.Backend.Put(ctx, path, r, opts)
}

func (s *faultyBlobStore) Delete(ctx context.Context, path string) error {
	if s.deleteErr != nil {
		if err := s.deleteErr(path); err != nil {
			return err
		}
	}
	return s.Backend.Delete(ctx, path)
}

// faultyRepository delegates to the in-memory repository and fails chosen calls
type faultyRepository struct {
	*memory.Repository
	createErr func(asset *simpleasset.Asset) error
	deleteErr func(id uuid.UUID) error
	attachErr func(params simpleasset.AttachImageParams) error
}

func (r *faultyRepository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if r.createErr != nil {
		if err := r.createErr(asset); err != nil {
			return err
		}
	}
	return r.Repository.CreateAsset(ctx, asset)
}

func (r *faultyRepository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	if r.deleteErr != nil {
		if err := r.deleteErr(id); err != nil {
			return err
		}
	}
	return r.Repository.DeleteAsset(ctx, id)
}

func (r *faultyRepository) AttachImage(ctx context.Context, params simpleasset.AttachImageParams) (*simpleasset.AttachedImage, error) {
	if r.attachErr != nil {
		if err := r.attachErr(params); err != nil {
			return nil, err
		}
	}
	return r.Repository.AttachImage(ctx, params)
}

func newFaultyStores() (*faultyBlobStore, *faultyRepository) {
	return &faultyBlobStore{Backend: memorystorage.New()}, &faultyRepository{Repository: memory.New()}
}

// MockImageStore is a testify mock of simpleasset.ImageStore
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) ListImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	args := m.Called(ctx, entityID)
	images, _ := args.Get(0).([]*simpleasset.AttachedImage)
	return images, args.Error(1)
}

func (m *MockImageStore) DeleteImage(ctx context.Context, entityID string, imageID uuid.UUID) error {
	args := m.Called(ctx, entityID, imageID)
	return args.Error(0)
}

func (m *MockImageStore) AttachImage(ctx context.Context, params simpleasset.AttachImageParams) (*simpleasset.AttachedImage, error) {
	args := m.Called(ctx, params)
	img, _ := args.Get(0).(*simpleasset.AttachedImage)
	return img, args.Error(1)
}

func (m *MockImageStore) SetCover(ctx context.Context, entityID string, imageID uuid.UUID) (*simpleasset.AttachedImage, error) {
	args := m.Called(ctx, entityID, imageID)
	img, _ := args.Get(0).(*simpleasset.AttachedImage)
	return img, args.Error(1)
}

func (m *MockImageStore) DeleteEntityImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	args := m.Called(ctx, entityID)
	images, _ := args.Get(0).([]*simpleasset.AttachedImage)
	return images, args.Error(1)
}

// MockCatalog is a testify mock of simpleasset.Catalog
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	return m.Called(ctx, asset).Error(0)
}

func (m *MockCatalog) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	args := m.Called(ctx, id)
	asset, _ := args.Get(0).(*simpleasset.Asset)
	return asset, args.Error(1)
}

func (m *MockCatalog) GetAssetByStoragePath(ctx context.Context, path string) (*simpleasset.Asset, error) {
	args := m.Called(ctx, path)
	asset, _ := args.Get(0).(*simpleasset.Asset)
	return asset, args.Error(1)
}

func (m *MockCatalog) UpdateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	return m.Called(ctx, asset).Error(0)
}

func (m *MockCatalog) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCatalog) ListAssets(ctx context.Context, filters simpleasset.ListFilters) (*simpleasset.AssetPage, error) {
	args := m.Called(ctx, filters)
	page, _ := args.Get(0).(*simpleasset.AssetPage)
	return page, args.Error(1)
}

// recordingSink collects events
type recordingSink struct {
	mu      sync.Mutex
	created []*simpleasset.Asset
	deleted []*simpleasset.DeleteResult
	orphans []simpleasset.TaskResult
}

func (s *recordingSink) AssetCreated(ctx context.Context, asset *simpleasset.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, asset)
	return nil
}

func (s *recordingSink) AssetDeleted(ctx context.Context, result *simpleasset.DeleteResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, result)
	return nil
}

func (s *recordingSink) OrphanRecorded(ctx context.Context, task simpleasset.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = append(s.orphans, task)
	return nil
}

// readBlob returns the bytes stored at path
func readBlob(t *testing.T, store simpleasset.BlobReader, path string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	require.NoError(t, err)
	return buf.Bytes()
}
