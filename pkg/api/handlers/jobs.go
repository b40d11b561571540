package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insurecove/document-service/pkg/api/middleware"
	"github.com/insurecove/document-service/pkg/document"
)

// JobHandler handles the OCR job routes.
type JobHandler struct {
	docs *document.Service
}

// NewJobHandler creates a job handler backed by the document service.
func NewJobHandler(docs *document.Service) *JobHandler {
	return &JobHandler{docs: docs}
}

// requestOCRBody is the body accepted by RequestOCR.
type requestOCRBody struct {
	Priority int    `json:"priority,omitempty"`
	Language string `json:"language,omitempty"`
}

// RequestOCR handles POST /api/v1/documents/{id}/ocr. It schedules text
// extraction for an existing document and returns the job with 202.
func (h *JobHandler) RequestOCR(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	var body requestOCRBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	job, err := h.docs.RequestOCR(r.Context(), p, chi.URLParam(r, "id"), body.Priority, body.Language)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// Get handles GET /api/v1/ocr/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	job, err := h.docs.GetJob(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSONOK(w, job)
}

// Cancel handles DELETE /api/v1/ocr/jobs/{id}. Cancelling a terminal job
// returns 409.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	if err := h.docs.CancelJob(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}
