package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// GalleryResponse is the committed state of an entity's gallery
type GalleryResponse struct {
	EntityID  string                       `json:"entity_id"`
	Images    []*simpleasset.AttachedImage `json:"images"`
	CoverID   *uuid.UUID                   `json:"cover_id,omitempty"`
	Remaining int                          `json:"remaining"`
}

// CommitResponse reports a gallery upload
type CommitResponse struct {
	Gallery  GalleryResponse              `json:"gallery"`
	Attached []*simpleasset.AttachedImage `json:"attached"`
	Failures []simpleasset.TaskResult     `json:"failures"`
	Summary  string                       `json:"summary"`
	Warning  string                       `json:"warning,omitempty"`
}

// RemoveGalleryResponse lists the images dropped with a gallery
type RemoveGalleryResponse struct {
	EntityID string                       `json:"entity_id"`
	Removed  []*simpleasset.AttachedImage `json:"removed"`
}

// AttachAssetRequest is the request body for attaching a library asset
type AttachAssetRequest struct {
	AssetID string `json:"asset_id"`
}

// SetCoverRequest is the request body for changing the cover
type SetCoverRequest struct {
	ImageID string `json:"image_id"`
}

// GalleryHandler handles HTTP requests for entity image galleries
type GalleryHandler struct {
	service   simpleasset.Service
	logger    *slog.Logger
	maxMemory int64
}

// NewGalleryHandler creates a new gallery handler
func NewGalleryHandler(service simpleasset.Service, opts ...HandlerOption) *GalleryHandler {
	o := applyOptions(opts)
	return &GalleryHandler{
		service:   service,
		logger:    o.logger,
		maxMemory: o.maxMemory,
	}
}

// Routes returns the routes for galleries, keyed by entity ID
func (h *GalleryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{entityID}", h.GetGallery)
	r.Delete("/{entityID}", h.RemoveGallery)
	r.Post("/{entityID}/images", h.UploadImages)
	r.Post("/{entityID}/attach", h.AttachAsset)
	r.Delete("/{entityID}/images/{imageID}", h.RemoveImage)
	r.Put("/{entityID}/cover", h.SetCover)

	return r
}

// GetGallery returns the entity's images and cover
func (h *GalleryHandler) GetGallery(w http.ResponseWriter, r *http.Request) {
	gallery, err := h.service.Gallery(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to load gallery", err)
		return
	}
	render.JSON(w, r, toGalleryResponse(gallery))
}

// UploadImages selects the request's files into free slots and commits them.
// Files beyond the free slots are dropped with a warning.
func (h *GalleryHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	files, err := readFiles(r, h.maxMemory)
	if err != nil {
		h.logger.Warn("Invalid gallery upload request", "entity_id", entityID, "error", err)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	gallery, err := h.service.Gallery(r.Context(), entityID)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to load gallery", err)
		return
	}

	accepted, warning := gallery.SelectFiles(files)
	if len(accepted) == 0 {
		writeServiceError(w, r, h.logger, "Gallery is full", warning)
		return
	}

	result, err := gallery.Commit(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to commit gallery", err)
		return
	}

	resp := CommitResponse{
		Gallery:  toGalleryResponse(gallery),
		Attached: result.Attached,
		Failures: result.Failures,
		Summary:  result.Summary(),
	}
	if resp.Attached == nil {
		resp.Attached = []*simpleasset.AttachedImage{}
	}
	if resp.Failures == nil {
		resp.Failures = []simpleasset.TaskResult{}
	}
	if warning != nil {
		resp.Warning = warning.Error()
	}
	render.Status(r, commitStatus(result, warning))
	render.JSON(w, r, resp)
}

// AttachAsset binds an existing library asset to a free slot
func (h *GalleryHandler) AttachAsset(w http.ResponseWriter, r *http.Request) {
	var req AttachAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	img, err := h.service.AttachAsset(r.Context(), chi.URLParam(r, "entityID"), assetID)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to attach asset", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, img)
}

// RemoveImage deletes one committed image and releases its asset's usage tag
func (h *GalleryHandler) RemoveImage(w http.ResponseWriter, r *http.Request) {
	imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid image ID")
		return
	}

	gallery, err := h.service.RemoveImage(r.Context(), chi.URLParam(r, "entityID"), imageID)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to remove image", err)
		return
	}
	render.JSON(w, r, toGalleryResponse(gallery))
}

// SetCover makes one committed image the cover
func (h *GalleryHandler) SetCover(w http.ResponseWriter, r *http.Request) {
	var req SetCoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	imageID, err := uuid.Parse(req.ImageID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid image ID")
		return
	}

	gallery, err := h.service.Gallery(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to load gallery", err)
		return
	}
	if err := gallery.SetCover(r.Context(), imageID); err != nil {
		writeServiceError(w, r, h.logger, "Failed to set cover", err)
		return
	}
	render.JSON(w, r, toGalleryResponse(gallery))
}

// RemoveGallery drops every image of an entity being destroyed
func (h *GalleryHandler) RemoveGallery(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	removed, err := h.service.RemoveGallery(r.Context(), entityID)
	if err != nil {
		writeServiceError(w, r, h.logger, "Failed to remove gallery", err)
		return
	}
	if removed == nil {
		removed = []*simpleasset.AttachedImage{}
	}
	render.JSON(w, r, RemoveGalleryResponse{EntityID: entityID, Removed: removed})
}

func toGalleryResponse(g *simpleasset.AttachmentSet) GalleryResponse {
	resp := GalleryResponse{
		EntityID:  g.EntityID(),
		Images:    g.Committed(),
		Remaining: g.Remaining(),
	}
	if resp.Images == nil {
		resp.Images = []*simpleasset.AttachedImage{}
	}
	if cover := g.Cover(); cover != nil {
		id := cover.ID
		resp.CoverID = &id
	}
	return resp
}

// commitStatus is 201 when every selected file was attached, 207 when only
// some were or the selection was truncated, and otherwise follows the
// failure stages.
func commitStatus(result *simpleasset.CommitResult, warning error) int {
	switch {
	case result.Complete() && warning == nil:
		return http.StatusCreated
	case len(result.Attached) > 0:
		return http.StatusMultiStatus
	}
	for _, task := range result.Failures {
		if task.Stage != simpleasset.StageValidation {
			return http.StatusBadGateway
		}
	}
	return http.StatusBadRequest
}
