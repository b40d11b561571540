package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insurecove/document-service/pkg/api/middleware"
	"github.com/insurecove/document-service/pkg/document"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
)

// maxMultipartMemory bounds how much of a multipart body is held in memory
// before spilling to disk. The full body size is already capped by the
// server's body limit.
const maxMultipartMemory = 32 << 20

// DocumentHandler handles the /api/v1/documents routes.
type DocumentHandler struct {
	docs *document.Service
}

// NewDocumentHandler creates a document handler backed by the service.
func NewDocumentHandler(docs *document.Service) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// uploadResponse is the body returned by Upload.
type uploadResponse struct {
	Document     *models.Document `json:"document"`
	Deduplicated bool             `json:"deduplicated"`
	JobID        string           `json:"job_id,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// Upload handles POST /api/v1/documents.
//
// The request is multipart/form-data with a required "file" part and
// optional fields: document_type, tags (repeated), metadata (JSON object),
// client_id, insurer_id, auto_ocr, ocr_priority, ocr_language.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		BadRequest(w, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "missing file part")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		BadRequest(w, "failed to read file part")
		return
	}

	req := document.UploadRequest{
		FileName:     header.Filename,
		MIMEType:     header.Header.Get("Content-Type"),
		Content:      content,
		DocumentType: r.FormValue("document_type"),
		Tags:         r.Form["tags"],
		OCRLanguage:  r.FormValue("ocr_language"),
		AutoOCR:      true,
	}

	if v := r.FormValue("auto_ocr"); v != "" {
		autoOCR, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "auto_ocr must be a boolean")
			return
		}
		req.AutoOCR = autoOCR
	}
	if v := r.FormValue("ocr_priority"); v != "" {
		priority, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(w, "ocr_priority must be an integer")
			return
		}
		req.OCRPriority = priority
	}
	if v := r.FormValue("metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Metadata); err != nil {
			BadRequest(w, "metadata must be a JSON object")
			return
		}
	}
	if v := r.FormValue("client_id"); v != "" {
		req.ClientID = &v
	}
	if v := r.FormValue("insurer_id"); v != "" {
		req.InsurerID = &v
	}

	result, err := h.docs.Upload(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	w.Header().Set("ETag", result.Document.ETag)
	WriteJSON(w, status, uploadResponse{
		Document:     result.Document,
		Deduplicated: result.Deduplicated,
		JobID:        result.JobID,
		Warnings:     result.Warnings,
	})
}

// listResponse is the body returned by List.
type listResponse struct {
	Documents  []*models.Document `json:"documents"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// List handles GET /api/v1/documents.
//
// Query parameters: owner_id (admin only for other owners), status,
// document_type, file_type, tag, filename_contains, ocr_completed,
// cursor, limit.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	q := r.URL.Query()

	filter := metastore.DocumentFilter{
		Status:           models.DocumentStatus(q.Get("status")),
		DocumentType:     q.Get("document_type"),
		FileType:         q.Get("file_type"),
		Tag:              q.Get("tag"),
		FilenameContains: q.Get("filename_contains"),
	}
	if v := q.Get("ocr_completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "ocr_completed must be a boolean")
			return
		}
		filter.OCRCompleted = &completed
	}
	if v := q.Get("created_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "created_after must be an RFC 3339 timestamp")
			return
		}
		filter.CreatedAfter = &ts
	}
	if v := q.Get("created_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "created_before must be an RFC 3339 timestamp")
			return
		}
		filter.CreatedBefore = &ts
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	docs, next, err := h.docs.List(r.Context(), p, q.Get("owner_id"), filter, q.Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSONOK(w, listResponse{Documents: docs, NextCursor: next})
}

// Get handles GET /api/v1/documents/{id}. The document's ETag is exposed
// in the response header for conditional updates.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	doc, err := h.docs.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("ETag", doc.ETag)
	WriteJSONOK(w, doc)
}

// updateRequest is the body accepted by Update. Absent fields are left
// unchanged; present fields replace the stored value.
type updateRequest struct {
	FileName     *string                `json:"file_name,omitempty"`
	DocumentType *string                `json:"document_type,omitempty"`
	Tags         *[]string              `json:"tags,omitempty"`
	Metadata     *map[string]any        `json:"metadata,omitempty"`
	Status       *models.DocumentStatus `json:"status,omitempty"`
}

// Update handles PATCH /api/v1/documents/{id}. An If-Match header carrying
// the current ETag enables optimistic concurrency.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	var body updateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	doc, err := h.docs.Update(r.Context(), p, chi.URLParam(r, "id"), document.UpdateRequest{
		FileName:     body.FileName,
		DocumentType: body.DocumentType,
		Tags:         body.Tags,
		Metadata:     body.Metadata,
		Status:       body.Status,
	}, r.Header.Get("If-Match"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("ETag", doc.ETag)
	WriteJSONOK(w, doc)
}

// Delete handles DELETE /api/v1/documents/{id}. The default is a soft
// delete; ?hard=true removes the row and reclaims the blob. An If-Match
// header makes the delete conditional on the document's current ETag.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	hard := false
	if v := r.URL.Query().Get("hard"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "hard must be a boolean")
			return
		}
		hard = parsed
	}

	if err := h.docs.Delete(r.Context(), p, chi.URLParam(r, "id"), hard, r.Header.Get("If-Match")); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// downloadResponse is the body returned by Download.
type downloadResponse struct {
	DocumentID       string `json:"document_id"`
	FileName         string `json:"file_name"`
	URL              string `json:"url"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

// Download handles GET /api/v1/documents/{id}/download. It returns a
// presigned URL rather than streaming the body; ?ttl=15m requests a
// shorter link lifetime, clamped to the storage cap.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	var ttl time.Duration
	if v := r.URL.Query().Get("ttl"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			BadRequest(w, "ttl must be a positive duration such as 15m")
			return
		}
		ttl = parsed
	}

	result, err := h.docs.Download(r.Context(), p, chi.URLParam(r, "id"), ttl)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSONOK(w, downloadResponse{
		DocumentID:       result.Document.ID,
		FileName:         result.Document.FileName,
		URL:              result.URL,
		ExpiresInSeconds: int64(result.ExpiresIn / time.Second),
	})
}

// Stats handles GET /api/v1/usage. Admins may pass ?owner_id= to inspect
// another owner's usage.
func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	stats, err := h.docs.GetUsageStats(r.Context(), p, strings.TrimSpace(r.URL.Query().Get("owner_id")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSONOK(w, stats)
}
