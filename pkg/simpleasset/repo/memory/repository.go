package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Repository implements simpleasset.Catalog and simpleasset.ImageStore using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*simpleasset.Asset
	byPath map[string]uuid.UUID                    // storage_path -> asset_id
	images map[string][]*simpleasset.AttachedImage // entity_id -> images ordered by position
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets: make(map[uuid.UUID]*simpleasset.Asset),
		byPath: make(map[string]uuid.UUID),
		images: make(map[string][]*simpleasset.AttachedImage),
	}
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[asset.StoragePath]; exists {
		return simpleasset.ErrDuplicateStoragePath
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	} else if _, exists := r.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = asset.CreatedAt
	}
	if asset.UsedIn == nil {
		asset.UsedIn = []string{}
	}

	r.assets[asset.ID] = copyAsset(asset)
	r.byPath[asset.StoragePath] = asset.ID
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, simpleasset.ErrAssetNotFound
	}
	return copyAsset(asset), nil
}

func (r *Repository) GetAssetByStoragePath(ctx context.Context, path string) (*simpleasset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byPath[path]
	if !exists {
		return nil, simpleasset.ErrAssetNotFound
	}
	return copyAsset(r.assets[id]), nil
}

// UpdateAsset replaces the mutable fields. StoragePath is immutable.
func (r *Repository) UpdateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.assets[asset.ID]
	if !exists {
		return simpleasset.ErrAssetNotFound
	}
	if asset.StoragePath != existing.StoragePath {
		return fmt.Errorf("storage path of asset %s is immutable", asset.ID)
	}

	updated := copyAsset(asset)
	updated.CreatedAt = existing.CreatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}
	r.assets[asset.ID] = updated
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, exists := r.assets[id]
	if !exists {
		return simpleasset.ErrAssetNotFound
	}
	delete(r.byPath, asset.StoragePath)
	delete(r.assets, id)
	return nil
}

func (r *Repository) ListAssets(ctx context.Context, filters simpleasset.ListFilters) (*simpleasset.AssetPage, error) {
	filters = filters.Normalize()
	search := strings.ToLower(strings.TrimSpace(filters.Search))

	r.mu.RLock()
	var matched []*simpleasset.Asset
	for _, asset := range r.assets {
		if filters.Kind != nil && asset.Kind != *filters.Kind {
			continue
		}
		if search != "" && !matchesSearch(asset, search) {
			continue
		}
		matched = append(matched, copyAsset(asset))
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *simpleasset.Asset) int {
		var c int
		switch filters.SortBy {
		case simpleasset.SortByName:
			c = cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case simpleasset.SortBySize:
			c = cmp.Compare(a.SizeBytes, b.SizeBytes)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID.String(), b.ID.String())
		}
		if !filters.SortAsc {
			c = -c
		}
		return c
	})

	total := int64(len(matched))
	start := min(filters.Offset(), len(matched))
	end := min(start+filters.PageSize, len(matched))
	return simpleasset.NewAssetPage(matched[start:end], total, filters), nil
}

func matchesSearch(asset *simpleasset.Asset, search string) bool {
	if strings.Contains(strings.ToLower(asset.Name), search) {
		return true
	}
	for _, tag := range asset.UsedIn {
		if strings.Contains(strings.ToLower(tag), search) {
			return true
		}
	}
	return false
}

// Entity image operations

func (r *Repository) ListImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	images := r.images[entityID]
	out := make([]*simpleasset.AttachedImage, 0, len(images))
	for _, img := range images {
		out = append(out, copyImage(img))
	}
	return out, nil
}

func (r *Repository) AttachImage(ctx context.Context, params simpleasset.AttachImageParams) (*simpleasset.AttachedImage, error) {
	if params.EntityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if params.StoragePath == "" && params.URL == "" {
		return nil, fmt.Errorf("storage path or url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	images := r.images[params.EntityID]
	position := 0
	if n := len(images); n > 0 {
		position = images[n-1].Position + 1
	}
	if params.IsCover {
		for _, img := range images {
			img.IsCover = false
		}
	}

	now := time.Now().UTC()
	img := &simpleasset.AttachedImage{
		ID:          uuid.New(),
		EntityID:    params.EntityID,
		StoragePath: params.StoragePath,
		URL:         params.URL,
		IsCover:     params.IsCover,
		Position:    position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if params.AssetID != nil {
		id := *params.AssetID
		img.AssetID = &id
	}
	r.images[params.EntityID] = append(images, img)
	return copyImage(img), nil
}

// DeleteImage removes the image and promotes the lowest position image when
// the cover was removed.
func (r *Repository) DeleteImage(ctx context.Context, entityID string, imageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	images := r.images[entityID]
	idx := slices.IndexFunc(images, func(img *simpleasset.AttachedImage) bool { return img.ID == imageID })
	if idx < 0 {
		return simpleasset.ErrImageNotFound
	}

	wasCover := images[idx].IsCover
	images = slices.Delete(images, idx, idx+1)
	if wasCover && len(images) > 0 {
		images[0].IsCover = true
		images[0].UpdatedAt = time.Now().UTC()
	}
	if len(images) == 0 {
		delete(r.images, entityID)
	} else {
		r.images[entityID] = images
	}
	return nil
}

func (r *Repository) SetCover(ctx context.Context, entityID string, imageID uuid.UUID) (*simpleasset.AttachedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cover *simpleasset.AttachedImage
	for _, img := range r.images[entityID] {
		if img.ID == imageID {
			cover = img
		}
	}
	if cover == nil {
		return nil, simpleasset.ErrImageNotFound
	}

	now := time.Now().UTC()
	for _, img := range r.images[entityID] {
		if img.IsCover != (img.ID == imageID) {
			img.IsCover = img.ID == imageID
			img.UpdatedAt = now
		}
	}
	return copyImage(cover), nil
}

func (r *Repository) DeleteEntityImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	images := r.images[entityID]
	delete(r.images, entityID)
	return images, nil
}

func copyAsset(a *simpleasset.Asset) *simpleasset.Asset {
	c := *a
	c.UsedIn = slices.Clone(a.UsedIn)
	if c.UsedIn == nil {
		c.UsedIn = []string{}
	}
	return &c
}

func copyImage(img *simpleasset.AttachedImage) *simpleasset.AttachedImage {
	c := *img
	if img.AssetID != nil {
		id := *img.AssetID
		c.AssetID = &id
	}
	return &c
}
