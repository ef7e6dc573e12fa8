// Package api routing. The middleware chain is RequestID → Metrics →
// Timeout → handler.
package api

import (
	"net/http"
	"time"

	"github.com/valyc0/document-service/pkg/health"
	"github.com/valyc0/document-service/pkg/metrics"
	"github.com/valyc0/document-service/pkg/middleware"
)

// NewRouter builds the full document API handler.
//
// Route table:
//
//	POST   /api/documents/upload                → accept a file
//	GET    /api/documents                       → list records (?status=)
//	GET    /api/documents/stats                 → per-stage counts
//	GET    /api/documents/{fileId}              → full record
//	GET    /api/documents/{fileId}/status       → compact status view
//	GET    /api/documents/{fileId}/download     → original content
//	GET    /api/documents/{fileId}/download-text → extracted text
//	DELETE /api/documents/{fileId}              → delete one file
//	DELETE /api/documents/failed                → delete all failed files
//	GET    /api/search                          → proxy to indexer
//	GET    /health, /health/live, /health/ready
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/documents/upload", h.Upload)
	mux.HandleFunc("GET /api/documents", h.List)
	mux.HandleFunc("GET /api/documents/stats", h.Stats)
	mux.HandleFunc("GET /api/documents/{fileId}", h.Get)
	mux.HandleFunc("GET /api/documents/{fileId}/status", h.Status)
	mux.HandleFunc("GET /api/documents/{fileId}/download", h.Download)
	mux.HandleFunc("GET /api/documents/{fileId}/download-text", h.DownloadText)
	mux.HandleFunc("DELETE /api/documents/failed", h.DeleteFailed)
	mux.HandleFunc("DELETE /api/documents/{fileId}", h.Delete)

	mux.HandleFunc("GET /api/search", h.Search)

	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID()(chain)

	return chain
}
