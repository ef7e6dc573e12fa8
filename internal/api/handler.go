// Package api implements the document service HTTP endpoints: upload,
// status queries, downloads, deletion, and the search proxy.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/valyc0/document-service/internal/query"
	"github.com/valyc0/document-service/internal/search"
	"github.com/valyc0/document-service/internal/upload"
	apperrors "github.com/valyc0/document-service/pkg/errors"
)

// Handler implements the document API endpoints.
type Handler struct {
	uploads        *upload.Service
	queries        *query.Service
	search         *search.Client
	maxUploadBytes int64
	logger         *slog.Logger
}

// New creates a Handler. searchClient may be nil when no indexer is
// configured, in which case search requests return 503.
func New(uploads *upload.Service, queries *query.Service, searchClient *search.Client, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &Handler{
		uploads:        uploads,
		queries:        queries,
		search:         searchClient,
		maxUploadBytes: maxUploadBytes,
		logger:         slog.Default().With("component", "api-handler"),
	}
}

// Upload accepts a multipart upload under the "file" form field. A
// re-upload of identical content returns the existing record with 200
// instead of creating a new one.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing form field 'file'")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read upload body")
		return
	}

	rec, created, err := h.uploads.Ingest(r.Context(), data, header.Filename, detectContentType(header, data))
	if err != nil {
		h.handleError(w, err, "upload failed")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	h.writeJSON(w, status, map[string]any{
		"file":      rec,
		"duplicate": !created,
	})
}

// Get returns the full record for a file.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.queries.Get(r.Context(), r.PathValue("fileId"))
	if err != nil {
		h.handleError(w, err, "fetch failed")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// Status returns a compact processing-status view of a file.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.queries.Get(r.Context(), r.PathValue("fileId"))
	if err != nil {
		h.handleError(w, err, "fetch failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"fileId":          rec.ID,
		"uploadStage":     rec.UploadStage,
		"extractionStage": rec.ExtractionStage,
		"indexingStage":   rec.IndexingStage,
		"extractionError": rec.ExtractionError,
		"indexingError":   rec.IndexingError,
		"terminal":        rec.UploadStage.Terminal(),
	})
}

// List returns records, optionally filtered by ?status=<stage>.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.queries.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.handleError(w, err, "list failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"files": records,
		"count": len(records),
	})
}

// Stats returns per-stage record counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queries.Stats(r.Context())
	if err != nil {
		h.handleError(w, err, "stats failed")
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

// Download streams the original file content as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	rec, body, err := h.uploads.Download(r.Context(), r.PathValue("fileId"))
	if err != nil {
		h.handleError(w, err, "download failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalFilename))
	if rec.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.FileSize, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("download stream interrupted", "file_id", rec.ID, "error", err)
	}
}

// DownloadText streams the extracted-text document for a file. Available
// once extraction has completed.
func (h *Handler) DownloadText(w http.ResponseWriter, r *http.Request) {
	rec, body, err := h.uploads.DownloadExtracted(r.Context(), r.PathValue("fileId"))
	if err != nil {
		h.handleError(w, err, "extracted text download failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.ID+"-extracted.json"))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("download stream interrupted", "file_id", rec.ID, "error", err)
	}
}

// Delete removes a file: blobs, index entries, and the record.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.uploads.Delete(r.Context(), r.PathValue("fileId"))
	if err != nil {
		h.handleError(w, err, "delete failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"deleted": rec.ID,
	})
}

// DeleteFailed removes every record in the FAILED stage.
func (h *Handler) DeleteFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.uploads.DeleteFailed(r.Context())
	if err != nil {
		h.handleError(w, err, "bulk delete failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"deleted": n,
	})
}

// Search proxies a full-text query to the indexing service.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	result, err := h.search.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.handleError(w, err, "search failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Health reports basic service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "document-service"})
}

func detectContentType(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func (h *Handler) handleError(w http.ResponseWriter, err error, msg string) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	} else {
		h.logger.Warn(msg, "error", err)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
