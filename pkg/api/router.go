// Package api provides the HTTP surface of the document service. It is
// deliberately thin glue over pkg/document; all domain behavior lives in
// the services.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/api/handlers"
	"github.com/insurecove/document-service/pkg/api/middleware"
	"github.com/insurecove/document-service/pkg/document"
	"github.com/insurecove/document-service/pkg/identity"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/metrics"
)

// RouterConfig carries the dependencies and knobs of the HTTP router.
type RouterConfig struct {
	// Documents is the document service behind the /api/v1 routes.
	Documents *document.Service

	// Store is pinged by the readiness probe. May be nil.
	Store *metastore.GORMStore

	// Auth validates bearer tokens on the /api/v1 routes.
	Auth *identity.Validator

	// RequestTimeout bounds a single request's handling.
	RequestTimeout time.Duration

	// MaxBodyBytes caps request body size. Zero means no cap.
	MaxBodyBytes int64
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health - liveness probe (unauthenticated)
//   - GET /health/ready - readiness probe (unauthenticated)
//   - GET /metrics - prometheus metrics (404 when disabled)
//   - /api/v1/documents - document CRUD, download, OCR scheduling
//   - /api/v1/ocr/jobs - job inspection and cancellation
//   - GET /api/v1/usage - per-owner usage statistics
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	if cfg.MaxBodyBytes > 0 {
		r.Use(limitBody(cfg.MaxBodyBytes))
	}

	healthHandler := handlers.NewHealthHandler(cfg.Store)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Prometheus metrics - 404 when metrics are disabled
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	documentHandler := handlers.NewDocumentHandler(cfg.Documents)
	jobHandler := handlers.NewJobHandler(cfg.Documents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Auth))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Upload)
			r.Get("/", documentHandler.List)
			r.Get("/{id}", documentHandler.Get)
			r.Patch("/{id}", documentHandler.Update)
			r.Delete("/{id}", documentHandler.Delete)
			r.Get("/{id}/download", documentHandler.Download)
			r.Post("/{id}/ocr", jobHandler.RequestOCR)
		})

		r.Route("/ocr/jobs", func(r chi.Router) {
			r.Get("/{id}", jobHandler.Get)
			r.Delete("/{id}", jobHandler.Cancel)
		})

		r.Get("/usage", documentHandler.Stats)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// limitBody caps the request body size so oversized uploads fail early
// instead of buffering unbounded data.
func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := logger.WithContext(r.Context(), logger.NewLogContext(requestID))
		next.ServeHTTP(ww, r.WithContext(ctx))

		duration := time.Since(start)

		logger.Info("API request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
