package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DefaultBaseURL prefixes public URLs when none is configured
const DefaultBaseURL = "memory://assets"

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory implementation of the simpleasset.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return NewWithBaseURL(DefaultBaseURL)
}

// NewWithBaseURL creates an in-memory backend whose public URLs start with baseURL
func NewWithBaseURL(baseURL string) *Backend {
	return &Backend{
		objects: make(map[string]object),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Put stores the bytes at path
func (b *Backend) Put(ctx context.Context, path string, reader io.Reader, opts simpleasset.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = object{data: data, mimeType: mimeType, updatedAt: time.Now().UTC()}
	return nil
}

// Delete removes the object at path
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[path]; !exists {
		return simpleasset.ErrBlobNotFound
	}
	delete(b.objects, path)
	return nil
}

// PublicURL returns baseURL/path
func (b *Backend) PublicURL(path string) string {
	return b.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// Get returns the object's bytes
func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, simpleasset.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Stat returns metadata for the object at path
func (b *Backend) Stat(ctx context.Context, path string) (*simpleasset.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, simpleasset.ErrBlobNotFound
	}
	info := obj.info(path)
	return &info, nil
}

// List returns every object under prefix ordered by path
func (b *Backend) List(ctx context.Context, prefix string) ([]simpleasset.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var infos []simpleasset.ObjectInfo
	for path, obj := range b.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, obj.info(path))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

func (o object) info(path string) simpleasset.ObjectInfo {
	return simpleasset.ObjectInfo{
		Path:        path,
		Size:        int64(len(o.data)),
		ContentType: o.mimeType,
		UpdatedAt:   o.updatedAt,
	}
}
