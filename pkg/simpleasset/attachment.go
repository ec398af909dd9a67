package simpleasset

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// MaxSlots is the number of images an entity gallery can hold.
const MaxSlots = 4

// DefaultGalleryNamespace is where gallery uploads are stored.
const DefaultGalleryNamespace = "fragrances"

// Uploader runs a batch of files through the upload pipeline.
// *UploadPipeline implements it.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest, onEach func(TaskResult)) *BatchResult
}

// GalleryOption configures an AttachmentSet
type GalleryOption func(*AttachmentSet)

// WithGalleryNamespace sets the namespace new gallery images are uploaded into
func WithGalleryNamespace(namespace string) GalleryOption {
	return func(s *AttachmentSet) {
		s.namespace = namespace
	}
}

// WithMaxSlots overrides MaxSlots
func WithMaxSlots(n int) GalleryOption {
	return func(s *AttachmentSet) {
		if n > 0 {
			s.maxSlots = n
		}
	}
}

// WithUsageTag sets the tag recorded in Asset.UsedIn for committed uploads.
// Defaults to the entity ID.
func WithUsageTag(tag string) GalleryOption {
	return func(s *AttachmentSet) {
		s.usageTag = tag
	}
}

// WithGalleryLogger sets the logger
func WithGalleryLogger(logger *slog.Logger) GalleryOption {
	return func(s *AttachmentSet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// CommitResult reports what a Commit attached and what it could not.
type CommitResult struct {
	Batch    *BatchResult     `json:"batch"`
	Attached []*AttachedImage `json:"attached"`
	Failures []TaskResult     `json:"failures"`
}

// Complete reports whether every pending file ended up attached.
func (r *CommitResult) Complete() bool {
	return len(r.Failures) == 0
}

// Summary renders the commit for an administrator.
func (r *CommitResult) Summary() string {
	total := len(r.Attached) + len(r.Failures)
	head := fmt.Sprintf("%d of %d attached", len(r.Attached), total)
	if r.Complete() {
		return head
	}
	parts := make([]string, 0, len(r.Failures))
	for _, t := range r.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s error: %s)", t.FileName, t.Stage, t.Cause))
	}
	return fmt.Sprintf("%s; %d failed: %s", head, len(r.Failures), strings.Join(parts, ", "))
}

// AttachmentSet is the bounded image gallery of one entity.
//
// Committed images mirror what the ImageStore has acknowledged; pending files
// are local selections not yet uploaded. After every operation
// len(committed)+len(pending) <= MaxSlots, and a non-empty committed list has
// exactly one cover.
//
// An AttachmentSet belongs to a single session and is not safe for concurrent
// use. Callers must not run two Commit calls on the same set at once.
type AttachmentSet struct {
	entityID  string
	usageTag  string
	namespace string
	maxSlots  int
	images    ImageStore
	uploader  Uploader
	logger    *slog.Logger

	committed []*AttachedImage
	pending   []File
}

// NewAttachmentSet creates a gallery for entityID seeded with already committed
// images. Use Load to fetch them from the ImageStore instead.
func NewAttachmentSet(entityID string, images ImageStore, uploader Uploader, opts ...GalleryOption) *AttachmentSet {
	s := &AttachmentSet{
		entityID:  entityID,
		usageTag:  entityID,
		namespace: DefaultGalleryNamespace,
		maxSlots:  MaxSlots,
		images:    images,
		uploader:  uploader,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntityID returns the entity the gallery belongs to
func (s *AttachmentSet) EntityID() string {
	return s.entityID
}

// Committed returns a copy of the committed images ordered by position
func (s *AttachmentSet) Committed() []*AttachedImage {
	return slices.Clone(s.committed)
}

// Pending returns a copy of the files waiting for Commit
func (s *AttachmentSet) Pending() []File {
	return slices.Clone(s.pending)
}

// Remaining returns how many more files can be selected
func (s *AttachmentSet) Remaining() int {
	return max(0, s.maxSlots-len(s.committed)-len(s.pending))
}

// Cover returns the cover image, or nil for an empty gallery
func (s *AttachmentSet) Cover() *AttachedImage {
	for _, img := range s.committed {
		if img.IsCover {
			return img
		}
	}
	return nil
}

// Load replaces the committed list with the store's images. A gallery that
// has lost its cover, or has several, is repaired by making the lowest
// position candidate the only cover.
func (s *AttachmentSet) Load(ctx context.Context) error {
	images, err := s.images.ListImages(ctx, s.entityID)
	if err != nil {
		return &ImageStoreError{EntityID: s.entityID, Op: "list", Err: err}
	}
	sortByPosition(images)
	s.committed = images

	if len(images) > s.maxSlots {
		s.logger.Warn("Gallery holds more images than slots",
			"entity_id", s.entityID, "images", len(images), "max_slots", s.maxSlots)
	}

	var covers []*AttachedImage
	for _, img := range images {
		if img.IsCover {
			covers = append(covers, img)
		}
	}
	if len(images) == 0 || len(covers) == 1 {
		return nil
	}

	target := images[0]
	if len(covers) > 1 {
		target = covers[0]
	}
	s.logger.Warn("Repairing gallery cover", "entity_id", s.entityID, "covers", len(covers), "image_id", target.ID)
	return s.SetCover(ctx, target.ID)
}

// SelectFiles adds files to pending up to the remaining capacity. When some
// files do not fit, the first ones are kept and a *CapacityError is returned
// alongside them as a warning.
func (s *AttachmentSet) SelectFiles(files []File) ([]File, error) {
	remaining := s.Remaining()
	accepted := files
	var warning error
	if len(files) > remaining {
		accepted = files[:remaining]
		warning = &CapacityError{
			EntityID:  s.entityID,
			Limit:     s.maxSlots,
			Requested: len(files),
			Accepted:  remaining,
		}
		s.logger.Warn("Gallery selection truncated",
			"entity_id", s.entityID, "requested", len(files), "accepted", remaining)
	}
	s.pending = append(s.pending, accepted...)
	return slices.Clone(accepted), warning
}

// RemovePending drops a file that has not been uploaded yet
func (s *AttachmentSet) RemovePending(index int) error {
	if index < 0 || index >= len(s.pending) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	s.pending = slices.Delete(s.pending, index, index+1)
	return nil
}

// RemoveCommitted deletes an image through the ImageStore and drops it
// locally only after the store acknowledged. When the store no longer has
// the image, the committed list is reloaded from the store.
func (s *AttachmentSet) RemoveCommitted(ctx context.Context, imageID uuid.UUID) error {
	idx := s.indexOf(imageID)
	if idx < 0 {
		return &ImageStoreError{EntityID: s.entityID, ImageID: imageID, Op: "delete", Err: ErrImageNotFound}
	}

	if err := s.images.DeleteImage(ctx, s.entityID, imageID); err != nil {
		if IsNotFound(err) {
			s.logger.Warn("Image already gone from store, reloading gallery", "entity_id", s.entityID, "image_id", imageID)
			return s.Load(ctx)
		}
		return &ImageStoreError{EntityID: s.entityID, ImageID: imageID, Op: "delete", Err: err}
	}

	wasCover := s.committed[idx].IsCover
	s.committed = slices.Delete(s.committed, idx, idx+1)
	if wasCover && len(s.committed) > 0 {
		// The store promotes the lowest position image.
		s.committed[0].IsCover = true
	}
	return nil
}

// SetCover makes imageID the gallery's only cover
func (s *AttachmentSet) SetCover(ctx context.Context, imageID uuid.UUID) error {
	if s.indexOf(imageID) < 0 {
		return &ImageStoreError{EntityID: s.entityID, ImageID: imageID, Op: "set_cover", Err: ErrImageNotFound}
	}
	if _, err := s.images.SetCover(ctx, s.entityID, imageID); err != nil {
		return &ImageStoreError{EntityID: s.entityID, ImageID: imageID, Op: "set_cover", Err: err}
	}
	for _, img := range s.committed {
		img.IsCover = img.ID == imageID
	}
	return nil
}

// Commit uploads every pending file as one batch and attaches the successes
// in selection order. The first attached image becomes cover only when the
// gallery was empty before the commit. Pending is cleared whatever the
// outcome; failed files are listed in the result with their stage.
//
// The error is non-nil only when the commit could not start.
func (s *AttachmentSet) Commit(ctx context.Context) (*CommitResult, error) {
	if len(s.pending) == 0 {
		return &CommitResult{Batch: &BatchResult{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	coverClaimed := len(s.committed) > 0
	batch := s.uploader.Upload(ctx, UploadRequest{
		Namespace: s.namespace,
		Files:     s.pending,
		UsedIn:    []string{s.usageTag},
	}, nil)

	result := &CommitResult{Batch: batch}
	for _, task := range batch.Tasks {
		if !task.Succeeded() {
			result.Failures = append(result.Failures, task)
			continue
		}

		assetID := task.Asset.ID
		img, err := s.images.AttachImage(ctx, AttachImageParams{
			EntityID:    s.entityID,
			AssetID:     &assetID,
			StoragePath: task.StoragePath,
			URL:         task.Asset.URL,
			IsCover:     !coverClaimed,
		})
		if err != nil {
			failed := task
			failed.State = TaskStateFailed
			failed.Stage = StageAttach
			failed.Err = &ImageStoreError{EntityID: s.entityID, Op: "attach", Err: err}
			failed.Cause = failed.Err.Error()
			s.logger.Error("Failed to attach uploaded image",
				"entity_id", s.entityID,
				"asset_id", assetID,
				"storage_path", task.StoragePath,
				"error", err)
			result.Failures = append(result.Failures, failed)
			continue
		}
		if img.IsCover {
			coverClaimed = true
		}
		s.committed = append(s.committed, img)
		result.Attached = append(result.Attached, img)
	}
	s.pending = nil

	if !result.Complete() {
		s.logger.Warn("Gallery commit incomplete", "entity_id", s.entityID, "summary", result.Summary())
	}
	return result, nil
}

// AttachAsset binds an asset already in the catalog to a free slot. It becomes
// cover when the gallery is empty.
func (s *AttachmentSet) AttachAsset(ctx context.Context, asset *Asset) (*AttachedImage, error) {
	if asset.Kind != AssetKindImage {
		return nil, &ValidationError{FileName: asset.Name, Err: ErrUnsupportedMimeType}
	}
	if s.Remaining() < 1 {
		return nil, &CapacityError{EntityID: s.entityID, Limit: s.maxSlots, Requested: 1, Accepted: 0}
	}

	assetID := asset.ID
	img, err := s.images.AttachImage(ctx, AttachImageParams{
		EntityID:    s.entityID,
		AssetID:     &assetID,
		StoragePath: asset.StoragePath,
		URL:         asset.URL,
		IsCover:     len(s.committed) == 0,
	})
	if err != nil {
		return nil, &ImageStoreError{EntityID: s.entityID, Op: "attach", Err: err}
	}
	s.committed = append(s.committed, img)
	return img, nil
}

// Check verifies the slot and cover invariants
func (s *AttachmentSet) Check() error {
	if total := len(s.committed) + len(s.pending); total > s.maxSlots {
		return fmt.Errorf("%w: %d committed and %d pending exceed %d slots",
			ErrCapacityExceeded, len(s.committed), len(s.pending), s.maxSlots)
	}
	if len(s.committed) == 0 {
		return nil
	}
	covers := 0
	for _, img := range s.committed {
		if img.IsCover {
			covers++
		}
	}
	if covers != 1 {
		return fmt.Errorf("%w: entity %s has %d", ErrCoverInvariant, s.entityID, covers)
	}
	return nil
}

func (s *AttachmentSet) indexOf(imageID uuid.UUID) int {
	return slices.IndexFunc(s.committed, func(img *AttachedImage) bool {
		return img.ID == imageID
	})
}

func sortByPosition(images []*AttachedImage) {
	slices.SortStableFunc(images, func(a, b *AttachedImage) int {
		return cmp.Compare(a.Position, b.Position)
	})
}
