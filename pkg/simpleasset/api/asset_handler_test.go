package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

var pngData = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type testFile struct {
	name     string
	mimeType string
	data     []byte
}

func pngPart(name string) testFile {
	return testFile{name: name, mimeType: "image/png", data: pngData}
}

// setupHandlerTest creates handlers over in-memory stores for testing
func setupHandlerTest(t *testing.T, opts ...simpleasset.Option) (*chi.Mux, simpleasset.Service, *memorystorage.Backend) {
	t.Helper()
	repo := memory.New()
	store := memorystorage.New()

	options := append([]simpleasset.Option{
		simpleasset.WithCatalog(repo),
		simpleasset.WithImageStore(repo),
		simpleasset.WithBlobStore(store),
	}, opts...)
	service, err := simpleasset.New(options...)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Mount("/assets", NewAssetHandler(service).Routes())
	router.Mount("/galleries", NewGalleryHandler(service).Routes())
	return router, service, store
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...testFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormFieldFiles, f.name))
		if f.mimeType != "" {
			h.Set("Content-Type", f.mimeType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAssetHandler_Upload_AllSucceed(t *testing.T) {
	router, service, store := setupHandlerTest(t)

	req := multipartRequest(t, "/assets/", map[string]string{
		FormFieldNamespace:  "uploads",
		FormFieldUsedIn:     "homepage, fragrance-1",
		FormFieldUploadedBy: "admin@example.com",
	}, pngPart("a.png"), testFile{name: "b.png", mimeType: "application/octet-stream", data: pngData})
	w := serve(router, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[UploadResponse](t, w)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, "2 of 2 uploaded", resp.Summary)
	assert.Equal(t, 2, store.Len())

	asset := resp.Tasks[1].Asset
	require.NotNil(t, asset)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Equal(t, []string{"homepage", "fragrance-1"}, asset.UsedIn)
	assert.Equal(t, "admin@example.com", asset.UploadedBy)
	assert.True(t, strings.HasPrefix(asset.StoragePath, "uploads/"))

	_, err := service.GetAsset(context.Background(), asset.ID)
	assert.NoError(t, err)
}

func TestAssetHandler_Upload_PartialIsMultiStatus(t *testing.T) {
	router, _, _ := setupHandlerTest(t)

	req := multipartRequest(t, "/assets/", nil,
		pngPart("ok.png"),
		testFile{name: "notes.txt", mimeType: "text/plain", data: []byte("hello")},
	)
	w := serve(router, req)

	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	resp := decode[UploadResponse](t, w)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, simpleasset.StageValidation, resp.Tasks[1].Stage)
	assert.Contains(t, resp.Summary, "notes.txt (validation error")
}

func TestAssetHandler_Upload_AllInvalidIsBadRequest(t *testing.T) {
	router, _, store := setupHandlerTest(t)

	req := multipartRequest(t, "/assets/", nil, testFile{name: "empty.png", mimeType: "image/png"})
	w := serve(router, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, store.Len())
}

func TestAssetHandler_Upload_NoFiles(t *testing.T) {
	router, _, _ := setupHandlerTest(t)

	w := serve(router, multipartRequest(t, "/assets/", map[string]string{FormFieldNamespace: "uploads"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errNoFiles.Error())
}

func TestAssetHandler_GetAndDelete(t *testing.T) {
	router, _, store := setupHandlerTest(t)

	w := serve(router, multipartRequest(t, "/assets/", nil, pngPart("a.png")))
	require.Equal(t, http.StatusCreated, w.Code)
	asset := decode[UploadResponse](t, w).Tasks[0].Asset

	w = serve(router, httptest.NewRequest(http.MethodGet, "/assets/"+asset.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.Equal(t, asset.StoragePath, got["storage_path"])
	assert.Equal(t, "12.0 B", got["size_formatted"])

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/assets/"+asset.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	del := decode[map[string]any](t, w)
	assert.Equal(t, string(simpleasset.DeleteOutcomeFully), del["outcome"])
	assert.Equal(t, 0, store.Len())

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/assets/"+asset.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	del = decode[map[string]any](t, w)
	assert.Equal(t, string(simpleasset.DeleteOutcomeNoop), del["outcome"])

	w = serve(router, httptest.NewRequest(http.MethodGet, "/assets/"+asset.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingDeleteStore struct {
	*memorystorage.Backend
}

func (s failingDeleteStore) Delete(ctx context.Context, path string) error {
	return errors.New("bucket unavailable")
}

func TestAssetHandler_Delete_PartialIsMultiStatus(t *testing.T) {
	repo := memory.New()
	store := memorystorage.New()
	service, err := simpleasset.New(simpleasset.WithCatalog(repo), simpleasset.WithBlobStore(failingDeleteStore{store}))
	require.NoError(t, err)
	router := chi.NewRouter()
	router.Mount("/assets", NewAssetHandler(service).Routes())

	w := serve(router, multipartRequest(t, "/assets/", nil, pngPart("a.png")))
	require.Equal(t, http.StatusCreated, w.Code)
	asset := decode[UploadResponse](t, w).Tasks[0].Asset

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/assets/"+asset.ID.String(), nil))
	require.Equal(t, http.StatusMultiStatus, w.Code)
	del := decode[map[string]any](t, w)
	assert.Equal(t, string(simpleasset.DeleteOutcomePartially), del["outcome"])
	assert.Equal(t, string(simpleasset.RemnantBlob), del["remnant"])
	assert.Contains(t, del["error"], "bucket unavailable")
}

func TestAssetHandler_InvalidID(t *testing.T) {
	router, _, _ := setupHandlerTest(t)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/assets/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid asset ID")
}

func TestAssetHandler_ListAssets(t *testing.T) {
	router, service, _ := setupHandlerTest(t)
	ctx := context.Background()
	batch := service.Upload(ctx, simpleasset.UploadRequest{Files: []simpleasset.File{
		{Name: "rose.png", MimeType: "image/png", Data: pngData},
		{Name: "oud.png", MimeType: "image/png", Data: append(pngData, 0, 0)},
		{Name: "teaser.mp4", MimeType: "video/mp4", Data: make([]byte, 40)},
	}}, nil)
	require.True(t, batch.AllSucceeded(), batch.Summary())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/assets/?type=image&sort=size_bytes&order=asc&page_size=1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[AssetPageResponse](t, w)
	assert.Equal(t, int64(2), page.Count)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "rose.png", page.Results[0].Name)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/assets/?search=TEASER", nil))
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[AssetPageResponse](t, w)
	require.Len(t, page.Results, 1)
	assert.Equal(t, simpleasset.AssetKindVideo, page.Results[0].Kind)
}

func TestAssetHandler_ListAssets_BadQuery(t *testing.T) {
	router, _, _ := setupHandlerTest(t)

	for _, query := range []string{"type=audio", "sort=color", "order=sideways", "page=0", "page_size=abc"} {
		t.Run(query, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/assets/?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAssetHandler_UsageStatsAndOrphans(t *testing.T) {
	router, service, _ := setupHandlerTest(t)
	ctx := context.Background()
	batch := service.Upload(ctx, simpleasset.UploadRequest{Files: []simpleasset.File{
		{Name: "a.png", MimeType: "image/png", Data: pngData},
		{Name: "b.png", MimeType: "image/png", Data: pngData},
	}}, nil)
	require.True(t, batch.AllSucceeded())
	used := batch.Tasks[0].Asset

	w := serve(router, jsonRequest(t, http.MethodPut, "/assets/"+used.ID.String()+"/usage", UpdateUsageRequest{UsedIn: []string{"fragrance-3"}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[AssetResponse](t, w)
	assert.Equal(t, []string{"fragrance-3"}, updated.UsedIn)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/assets/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.UnusedCount)
	assert.Equal(t, "24.0 B", stats.TotalSizeFormatted)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/assets/orphans", nil))
	require.Equal(t, http.StatusOK, w.Code)
	orphans := decode[[]AssetResponse](t, w)
	require.Len(t, orphans, 1)
	assert.Equal(t, batch.Tasks[1].Asset.ID, orphans[0].ID)

	w = serve(router, jsonRequest(t, http.MethodPut, "/assets/"+uuid.NewString()+"/usage", UpdateUsageRequest{}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssetHandler_PurgeBlob(t *testing.T) {
	router, service, store := setupHandlerTest(t)
	ctx := context.Background()
	asset := service.Upload(ctx, simpleasset.UploadRequest{Files: []simpleasset.File{
		{Name: "a.png", MimeType: "image/png", Data: pngData},
	}}, nil).Tasks[0].Asset
	require.NoError(t, store.Put(ctx, "uploads/orphan.png", bytes.NewReader(pngData), simpleasset.PutOptions{}))

	w := serve(router, jsonRequest(t, http.MethodPost, "/assets/purge", PurgeBlobRequest{StoragePath: asset.StoragePath}))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(router, jsonRequest(t, http.MethodPost, "/assets/purge", PurgeBlobRequest{StoragePath: "uploads/orphan.png"}))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, store.Len())

	w = serve(router, jsonRequest(t, http.MethodPost, "/assets/purge", PurgeBlobRequest{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"asset not found", &simpleasset.CatalogError{AssetID: id, Op: "get", Err: simpleasset.ErrAssetNotFound}, http.StatusNotFound},
		{"image not found", &simpleasset.ImageStoreError{EntityID: "e", ImageID: id, Op: "delete", Err: simpleasset.ErrImageNotFound}, http.StatusNotFound},
		{"validation", &simpleasset.ValidationError{FileName: "a.txt", Err: simpleasset.ErrUnsupportedMimeType}, http.StatusBadRequest},
		{"capacity", &simpleasset.CapacityError{EntityID: "e", Limit: 4, Requested: 1}, http.StatusConflict},
		{"duplicate path", fmt.Errorf("create: %w", simpleasset.ErrDuplicateStoragePath), http.StatusConflict},
		{"path in use", fmt.Errorf("%w: uploads/a.png", simpleasset.ErrPathInUse), http.StatusConflict},
		{"no image store", simpleasset.ErrNoImageStore, http.StatusNotImplemented},
		{"catalog down", &simpleasset.CatalogError{Op: "list", Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"blob down", &simpleasset.BlobStoreError{Op: "put", Path: "p", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
