package simpleasset

import (
	"net/http"
	"strings"
)

// DefaultMaxUploadSize is the per-file ceiling applied when none is configured.
const DefaultMaxUploadSize = 50 * 1024 * 1024 // 50MB

// DefaultAllowedMimeTypes maps every permitted MIME type to the kind it uploads as.
var DefaultAllowedMimeTypes = map[string]AssetKind{
	"image/jpeg":      AssetKindImage,
	"image/png":       AssetKindImage,
	"image/webp":      AssetKindImage,
	"image/gif":       AssetKindImage,
	"video/mp4":       AssetKindVideo,
	"video/quicktime": AssetKindVideo,
}

// UploadPolicy defines constraints for uploaded files.
type UploadPolicy struct {
	MaxFileSize      int64
	AllowedMimeTypes map[string]AssetKind
}

// DefaultUploadPolicy returns the default upload policy.
func DefaultUploadPolicy() UploadPolicy {
	allowed := make(map[string]AssetKind, len(DefaultAllowedMimeTypes))
	for k, v := range DefaultAllowedMimeTypes {
		allowed[k] = v
	}
	return UploadPolicy{
		MaxFileSize:      DefaultMaxUploadSize,
		AllowedMimeTypes: allowed,
	}
}

// ImageOnly returns a copy of the policy that rejects every non-image type.
func (p UploadPolicy) ImageOnly() UploadPolicy {
	allowed := make(map[string]AssetKind)
	for k, v := range p.AllowedMimeTypes {
		if v == AssetKindImage {
			allowed[k] = v
		}
	}
	p.AllowedMimeTypes = allowed
	return p
}

// Validate checks the file and returns its normalized MIME type and kind.
// An empty declared type is detected from the leading bytes.
func (p UploadPolicy) Validate(f File) (string, AssetKind, error) {
	if f.Size() == 0 {
		return "", "", &ValidationError{FileName: f.Name, Err: ErrEmptyFile}
	}
	if p.MaxFileSize > 0 && f.Size() > p.MaxFileSize {
		return "", "", &ValidationError{FileName: f.Name, Err: ErrFileTooLarge}
	}

	mimeType := NormalizeMimeType(f.MimeType)
	if mimeType == "" {
		mimeType = NormalizeMimeType(http.DetectContentType(f.Data))
	}
	kind, ok := p.AllowedMimeTypes[mimeType]
	if !ok {
		return mimeType, "", &ValidationError{FileName: f.Name, Err: ErrUnsupportedMimeType}
	}
	return mimeType, kind, nil
}

// NormalizeMimeType lowercases the type and strips parameters such as charset.
func NormalizeMimeType(mimeType string) string {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}
