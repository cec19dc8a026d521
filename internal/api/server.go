// Package api exposes the lookup pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hogarfamiliar/catastro-cli/internal/catastro"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// maxFormBytes bounds POST bodies. A reference is 20 characters.
const maxFormBytes = 4 << 10

// retryAfterSeconds is advertised on lookups that failed for a reason that may
// clear on its own.
const retryAfterSeconds = "30"

// Service is the lookup pipeline the handlers call.
type Service interface {
	Acquire(ctx context.Context, raw string) (*catastro.Acquisition, error)
}

// HealthFunc reports whether the cache backend is reachable. Nil means no
// backend is configured.
type HealthFunc func() bool

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	Health  HealthFunc
	// Timeout bounds a single lookup, including every retry.
	Timeout time.Duration
}

// Handler wires the HTTP endpoints to the lookup service.
type Handler struct {
	service Service
	health  HealthFunc
	timeout time.Duration
}

// New constructs a Handler.
func New(service Service, health HealthFunc, timeout time.Duration) *Handler {
	return &Handler{service: service, health: health, timeout: timeout}
}

// Register mounts the lookup and health endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/api/consulta", h.HandleLookup)
	r.Post("/api/consulta", h.HandleLookup)
}

// NewRouter builds the full middleware chain around a Handler.
func NewRouter(service Service, opts Options) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestIDs)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(Recover)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	New(service, opts.Health, opts.Timeout).Register(r)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorEnvelope("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope("method not allowed"))
	})
	return r
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.health != nil {
		if h.health() {
			body["cache"] = "up"
		} else {
			body["status"] = "degraded"
			body["cache"] = "down"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleLookup handles GET and POST /api/consulta.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	raw, ok := referenceFromRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(raw) == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("a cadastral reference is required"))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	acq, err := h.service.Acquire(ctx, raw)
	if err != nil {
		zap.L().Debug("api: lookup failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("kind", string(catastro.KindOf(err))),
		)
	}
	var ce *catastro.Error
	if errors.As(err, &ce) && ce.Retryable() {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, statusFor(err), catastro.ToResult(acq, err))
}

// referenceFromRequest reads the reference from the query string, a form
// body or a JSON body. It writes the error response itself when the body
// cannot be read.
func referenceFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if v := q.Get("rc"); v != "" {
			return v, true
		}
		return q.Get("referencia"), true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req struct {
			Referencia string `json:"referencia"`
			RC         string `json:"rc"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope("invalid request body"))
			return "", false
		}
		if req.Referencia != "" {
			return req.Referencia, true
		}
		return req.RC, true
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("invalid request body"))
		return "", false
	}
	if v := r.PostForm.Get("referencia"); v != "" {
		return v, true
	}
	return r.PostForm.Get("rc"), true
}

// statusFor maps a lookup outcome to an HTTP status. The JSON envelope is
// written either way.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch catastro.KindOf(err) {
	case catastro.KindInvalidInput:
		return http.StatusBadRequest
	case catastro.KindNoData:
		return http.StatusNotFound
	case catastro.KindUpstreamData:
		return http.StatusUnprocessableEntity
	case catastro.KindMalformed:
		return http.StatusBadGateway
	case catastro.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorEnvelope(msg string) model.Result {
	return model.Result{Success: false, Data: []model.Property{}, Error: msg}
}

// writeJSON encodes v without HTML escaping so accented text stays readable.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"success":false,"data":[],"error":"internal error while processing the request"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
