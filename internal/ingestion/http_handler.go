package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/outreach-core/internal/domain"
)

const maxUploadBytes = 32 << 20

// Handler exposes ingestion as HTTP endpoints. It expects a {kind} path value.
type Handler struct {
	service *Service
	preview bool
}

// NewHTTPHandler wraps the service with the import endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

// NewPreviewHandler wraps the service with the dry-run endpoint.
func NewPreviewHandler(service *Service) http.Handler {
	return &Handler{service: service, preview: true}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	kind, err := domain.ParseEntityKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid form data: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file required: %w", err))
		return
	}
	defer file.Close()

	var headerRowIndex *int
	if raw := strings.TrimSpace(r.FormValue("header_row")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("header_row must be a positive row number"))
			return
		}
		zeroBased := idx - 1
		headerRowIndex = &zeroBased
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read file: %w", err))
		return
	}

	req := Request{
		Kind:           kind,
		FileName:       header.Filename,
		HeaderRowIndex: headerRowIndex,
		Data:           bytes.NewReader(data),
	}

	if h.preview {
		limit, _ := strconv.Atoi(r.FormValue("limit"))
		result, err := h.service.Preview(r.Context(), PreviewRequest{Request: req, Limit: limit})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	summary, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
