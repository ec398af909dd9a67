package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	var validation *simpleasset.ValidationError
	var capacity *simpleasset.CapacityError
	var blobErr *simpleasset.BlobStoreError
	var catalogErr *simpleasset.CatalogError
	var imageErr *simpleasset.ImageStoreError

	switch {
	case err == nil:
		return http.StatusOK
	case simpleasset.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.Is(err, simpleasset.ErrInvalidIndex):
		return http.StatusBadRequest
	case errors.As(err, &capacity),
		errors.Is(err, simpleasset.ErrCapacityExceeded),
		errors.Is(err, simpleasset.ErrCoverInvariant),
		errors.Is(err, simpleasset.ErrDuplicateStoragePath),
		errors.Is(err, simpleasset.ErrPathInUse):
		return http.StatusConflict
	case errors.Is(err, simpleasset.ErrNoImageStore):
		return http.StatusNotImplemented
	case errors.As(err, &blobErr), errors.As(err, &catalogErr), errors.As(err, &imageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "path", r.URL.Path, "error", err)
	} else {
		logger.Warn(msg, "path", r.URL.Path, "error", err)
	}
	writeError(w, r, status, err.Error())
}

// batchStatus picks the reply status of an upload batch: 201 when every file
// landed, 207 when some did, otherwise 400 for pure validation failures and
// 502 when a store failed.
func batchStatus(batch *simpleasset.BatchResult) int {
	switch {
	case batch.Total() > 0 && batch.AllSucceeded():
		return http.StatusCreated
	case batch.Succeeded > 0:
		return http.StatusMultiStatus
	}
	for _, task := range batch.Tasks {
		if task.Stage != simpleasset.StageValidation {
			return http.StatusBadGateway
		}
	}
	return http.StatusBadRequest
}

// deleteStatus picks the reply status of a delete
func deleteStatus(result *simpleasset.DeleteResult) int {
	switch result.Outcome {
	case simpleasset.DeleteOutcomeFully, simpleasset.DeleteOutcomeNoop:
		return http.StatusOK
	case simpleasset.DeleteOutcomePartially:
		return http.StatusMultiStatus
	default:
		return http.StatusBadGateway
	}
}
