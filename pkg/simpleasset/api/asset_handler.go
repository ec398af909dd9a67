package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// AssetResponse is an asset with its size rendered for people
type AssetResponse struct {
	*simpleasset.Asset
	SizeFormatted string `json:"size_formatted"`
}

// AssetPageResponse is one page of a listing
type AssetPageResponse struct {
	Results  []AssetResponse `json:"results"`
	Count    int64           `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasNext  bool            `json:"has_next"`
	HasPrev  bool            `json:"has_prev"`
}

// StatsResponse is the library-wide summary
type StatsResponse struct {
	simpleasset.Stats
	TotalSizeFormatted string `json:"total_size_formatted"`
}

// UploadResponse reports every file of an upload batch
type UploadResponse struct {
	*simpleasset.BatchResult
	Summary     string   `json:"summary"`
	OrphanPaths []string `json:"orphan_paths,omitempty"`
}

// DeleteResponse reports the consistency state after a delete
type DeleteResponse struct {
	*simpleasset.DeleteResult
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// UpdateUsageRequest is the request body for replacing usage tags
type UpdateUsageRequest struct {
	UsedIn []string `json:"used_in"`
}

// PurgeBlobRequest is the request body for purging an orphan blob
type PurgeBlobRequest struct {
	StoragePath string `json:"storage_path"`
}

// AssetHandler handles HTTP requests for the asset library
type AssetHandler struct {
	service   simpleasset.Service
	logger    *slog.Logger
	maxMemory int64
}

// HandlerOption configures a handler
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	logger    *slog.Logger
	maxMemory int64
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxMemory sets how much of a multipart body is kept in memory
func WithMaxMemory(n int64) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.maxMemory = n
		}
	}
}

func applyOptions(opts []HandlerOption) handlerOptions {
	o := handlerOptions{logger: slog.Default(), maxMemory: defaultMaxMemory}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(service simpleasset.Service, opts ...HandlerOption) *AssetHandler {
	o := applyOptions(opts)
	return &AssetHandler{
		service:   service,
		logger:    o.logger,
		maxMemory: o.maxMemory,
	}
}

// Routes returns the routes for assets
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Upload)
	r.Get("/", h.ListAssets)
	r.Get("/stats", h.Stats)
	r.Get("/orphans", h.Orphans)
	r.Post("/purge", h.PurgeBlob)

	r.Get("/{id}", h.GetAsset)
	r.Delete("/{id}", h.DeleteAsset)
	r.Put("/{id}/usage", h.UpdateUsage)

	return r
}

// Upload stores every file of a multipart request as an asset
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(r, h.maxMemory)
	if err != nil {
		h.logger.Warn("Invalid upload request", "error", err)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req := simpleasset.UploadRequest{
		Namespace:  r.FormValue(FormFieldNamespace),
		Files:      files,
		UsedIn:     splitTags(r.MultipartForm.Value[FormFieldUsedIn]),
		UploadedBy: r.FormValue(FormFieldUploadedBy),
	}
	batch := h.service.Upload(r.Context(), req, nil)

	render.Status(r, batchStatus(batch))
	render.JSON(w, r, UploadResponse{
		BatchResult: batch,
		Summary:     batch.Summary(),
		OrphanPaths: batch.OrphanPaths(),
	})
}

// ListAssets lists the catalog with optional type, search, sort, and paging
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	filters, err := parseListFilters(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.ListAssets(r.Context(), filters)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to list assets", err)
		return
	}

	resp := AssetPageResponse{
		Results:  toAssetResponses(page.Assets),
		Count:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasNext:  page.HasNext,
		HasPrev:  page.HasPrev,
	}
	render.JSON(w, r, resp)
}

// GetAsset retrieves an asset by ID
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	asset, err := h.service.GetAsset(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to get asset", err)
		return
	}
	render.JSON(w, r, toAssetResponse(asset))
}

// DeleteAsset removes an asset's bytes and record. Deleting an unknown asset
// succeeds as a noop.
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Delete(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to delete asset", err)
		return
	}

	resp := DeleteResponse{DeleteResult: result, Summary: result.Summary()}
	if err := result.Err(); err != nil {
		resp.Error = err.Error()
	}
	render.Status(r, deleteStatus(result))
	render.JSON(w, r, resp)
}

// UpdateUsage replaces the asset's usage tags
func (h *AssetHandler) UpdateUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req UpdateUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := h.service.UpdateUsage(r.Context(), id, req.UsedIn)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to update asset usage", err)
		return
	}
	render.JSON(w, r, toAssetResponse(asset))
}

// Stats returns counts and total size over the whole catalog
func (h *AssetHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to compute stats", err)
		return
	}
	render.JSON(w, r, StatsResponse{Stats: *stats, TotalSizeFormatted: simpleasset.HumanSize(stats.TotalSizeBytes)})
}

// Orphans lists every asset nothing references
func (h *AssetHandler) Orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.service.Orphans(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to list orphans", err)
		return
	}
	render.JSON(w, r, toAssetResponses(orphans))
}

// PurgeBlob deletes bytes no asset points to
func (h *AssetHandler) PurgeBlob(w http.ResponseWriter, r *http.Request) {
	var req PurgeBlobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.StoragePath) == "" {
		writeError(w, r, http.StatusBadRequest, "storage_path is required")
		return
	}

	if err := h.service.PurgeBlob(r.Context(), req.StoragePath); err != nil {
		writeServiceError(w, r, h.logger, "Failed to purge blob", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssetHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid asset ID", "asset_id", idStr, "error", err)
		writeError(w, r, http.StatusBadRequest, "Invalid asset ID")
		return uuid.Nil, false
	}
	return id, true
}

func parseListFilters(r *http.Request) (simpleasset.ListFilters, error) {
	q := r.URL.Query()
	var filters simpleasset.ListFilters

	if v := q.Get("type"); v != "" {
		kind := simpleasset.AssetKind(strings.ToLower(v))
		if !kind.IsValid() {
			return filters, errors.New("type must be 'image' or 'video'")
		}
		filters.Kind = &kind
	}
	filters.Search = strings.TrimSpace(q.Get("search"))

	if v := q.Get("sort"); v != "" {
		sortBy := simpleasset.SortField(v)
		switch sortBy {
		case simpleasset.SortByCreatedAt, simpleasset.SortByName, simpleasset.SortBySize:
		default:
			return filters, errors.New("sort must be one of created_at, name, size_bytes")
		}
		filters.SortBy = sortBy
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		filters.SortAsc = true
	default:
		return filters, errors.New("order must be 'asc' or 'desc'")
	}

	var err error
	if filters.Page, err = intParam(q.Get("page")); err != nil {
		return filters, errors.New("page must be a positive integer")
	}
	if filters.PageSize, err = intParam(q.Get("page_size")); err != nil {
		return filters, errors.New("page_size must be a positive integer")
	}
	return filters, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

func toAssetResponse(asset *simpleasset.Asset) AssetResponse {
	return AssetResponse{Asset: asset, SizeFormatted: simpleasset.HumanSize(asset.SizeBytes)}
}

func toAssetResponses(assets []*simpleasset.Asset) []AssetResponse {
	out := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, toAssetResponse(a))
	}
	return out
}
