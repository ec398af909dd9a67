package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Form field names accepted by the upload endpoints
const (
	FormFieldFiles      = "files"
	FormFieldNamespace  = "namespace"
	FormFieldUsedIn     = "used_in"
	FormFieldUploadedBy = "uploaded_by"
)

// defaultMaxMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const defaultMaxMemory = 32 << 20

var errNoFiles = errors.New("no files in request")

// readFiles parses the multipart body and loads every file part. A part
// declared as application/octet-stream is left untyped so its type is
// detected from content.
func readFiles(r *http.Request, maxMemory int64) ([]simpleasset.File, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	headers := r.MultipartForm.File[FormFieldFiles]
	if len(headers) == 0 {
		return nil, errNoFiles
	}

	files := make([]simpleasset.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		mimeType := fh.Header.Get("Content-Type")
		if simpleasset.NormalizeMimeType(mimeType) == "application/octet-stream" {
			mimeType = ""
		}
		files = append(files, simpleasset.File{
			Name:     fh.Filename,
			MimeType: mimeType,
			Data:     data,
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// splitTags reads a repeated or comma-separated form/query value
func splitTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
