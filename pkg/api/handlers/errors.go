package handlers

import (
	"errors"
	"net/http"

	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/validation"
)

// writeServiceError maps service errors to problem responses. Unknown
// errors become 500 without leaking internals to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		Unauthorized(w, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		Forbidden(w, "access to this resource is not allowed")
	case errors.Is(err, models.ErrDocumentNotFound):
		NotFound(w, "document not found")
	case errors.Is(err, models.ErrJobNotFound):
		NotFound(w, "job not found")
	case errors.Is(err, models.ErrDocumentDeleted):
		Gone(w, "document has been deleted")
	case errors.Is(err, models.ErrPreconditionFailed):
		PreconditionFailed(w, "document was modified, re-read and retry with the current ETag")
	case errors.Is(err, models.ErrJobTerminal):
		Conflict(w, "job is already in a terminal state")
	case errors.Is(err, models.ErrQuotaExceeded):
		InsufficientStorage(w, "owner storage quota exceeded")
	case errors.Is(err, validation.ErrFileTooLarge),
		errors.Is(err, validation.ErrMetadataTooLarge):
		PayloadTooLarge(w, err.Error())
	case errors.Is(err, validation.ErrEmptyFile),
		errors.Is(err, validation.ErrInvalidFilename):
		BadRequest(w, err.Error())
	case errors.Is(err, validation.ErrUnsupportedType),
		errors.Is(err, validation.ErrSignatureMismatch),
		errors.Is(err, validation.ErrThreatDetected),
		errors.Is(err, validation.ErrMetadataSuspicious),
		errors.Is(err, ocr.ErrUnsupportedFormat):
		UnprocessableEntity(w, err.Error())
	default:
		InternalServerError(w, "internal error")
	}
}
