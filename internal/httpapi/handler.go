// Package httpapi serves the pipeline over JSON HTTP routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	playground "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpattn/outreach-core/internal/audit"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/ingestion"
	"github.com/rpattn/outreach-core/internal/pipeline"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Deps are the services the routes delegate to.
type Deps struct {
	Store      repository.Store
	Validation *pipeline.ValidationService
	Adjuster   *pipeline.Adjuster
	Promotion  *pipeline.PromotionEngine
	Audit      *audit.Logger
	Ingestion  *ingestion.Service
	// Health reports whether the backing store is reachable. Optional.
	Health func(ctx context.Context) error
}

type Handler struct {
	deps     Deps
	validate *playground.Validate
}

func New(deps Deps) *Handler {
	return &Handler{deps: deps, validate: playground.New(playground.WithRequiredStructEnabled())}
}

// Routes registers every endpoint on a fresh ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/{kind}/validate", h.handleValidate)
	mux.HandleFunc("POST /api/{kind}/records/{unique_id}/adjust", h.handleAdjust)
	mux.HandleFunc("POST /api/promote", h.handlePromote)

	mux.HandleFunc("GET /api/{kind}/records/{unique_id}", h.handleGetRecord)
	mux.HandleFunc("GET /api/{kind}/records/{unique_id}/audit", h.handleRecordAudit)
	mux.HandleFunc("GET /api/{kind}/audit", h.handleAuditQuery)
	mux.HandleFunc("GET /api/{kind}/stats", h.handleStats)

	if h.deps.Ingestion != nil {
		mux.Handle("POST /api/{kind}/import", ingestion.NewHTTPHandler(h.deps.Ingestion))
		mux.Handle("POST /api/{kind}/import/preview", ingestion.NewPreviewHandler(h.deps.Ingestion))
	}

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// kindFromPath resolves {kind}, writing a 404 when it is unknown.
func kindFromPath(w http.ResponseWriter, r *http.Request) (domain.EntityKind, bool) {
	kind, err := domain.ParseEntityKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return kind, true
}

// decodeBody reads a JSON body into dst and checks its struct tags. An empty
// body leaves dst at its zero value.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return describeValidation(err)
	}
	return nil
}

func describeValidation(err error) error {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid request: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid request: %s", strings.Join(problems, "; "))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrImmutableField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
