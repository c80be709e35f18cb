package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/pipeline"
)

type validateRequest struct {
	BatchID *string `json:"batch_id" validate:"omitempty,uuid"`
	Limit   int     `json:"limit" validate:"gte=0"`
	Status  string  `json:"status" validate:"omitempty,oneof=pending passed failed"`
}

type validateResponse struct {
	Success       bool                   `json:"success"`
	BatchID       uuid.UUID              `json:"batch_id"`
	RowsValidated int                    `json:"rows_validated"`
	RowsPassed    int                    `json:"rows_passed"`
	RowsFailed    int                    `json:"rows_failed"`
	Errors        []pipeline.RecordError `json:"errors"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	var req validateRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := pipeline.ValidateOptions{Limit: req.Limit}
	if req.BatchID != nil {
		id := uuid.MustParse(*req.BatchID)
		opts.IngestBatchID = &id
	}
	if req.Status != "" {
		opts.Statuses = []domain.ValidationStatus{domain.ValidationStatus(req.Status)}
	}

	result, err := h.deps.Validation.ValidateBatch(r.Context(), kind, opts)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Success:       true,
		BatchID:       result.BatchID,
		RowsValidated: result.RowsValidated,
		RowsPassed:    result.RowsPassed,
		RowsFailed:    result.RowsFailed,
		Errors:        result.Errors,
	})
}

type adjustRequest struct {
	FieldUpdates map[string]any `json:"field_updates" validate:"required"`
}

type adjustResponse struct {
	Success             bool                       `json:"success"`
	UniqueID            string                     `json:"unique_id"`
	BatchID             uuid.UUID                  `json:"batch_id"`
	ChangesApplied      []domain.FieldChange       `json:"changes_applied"`
	ValidationTriggered bool                       `json:"validation_triggered"`
	NewStatus           domain.ValidationStatus    `json:"new_status"`
	Failures            []domain.ValidationFailure `json:"failures"`
	AuditLogID          int64                      `json:"audit_log_id"`
	Message             string                     `json:"message"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	var req adjustRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.deps.Adjuster.Adjust(r.Context(), kind, r.PathValue("unique_id"), req.FieldUpdates)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	message := "record adjusted and passed validation"
	if result.NewStatus != domain.ValidationPassed {
		message = "record adjusted but still fails validation"
	}
	failures := result.Failures
	if failures == nil {
		failures = []domain.ValidationFailure{}
	}
	changes := result.AppliedChanges
	if changes == nil {
		changes = []domain.FieldChange{}
	}

	writeJSON(w, http.StatusOK, adjustResponse{
		Success:             true,
		UniqueID:            result.UniqueID,
		BatchID:             result.BatchID,
		ChangesApplied:      changes,
		ValidationTriggered: result.RevalidationTriggered,
		NewStatus:           result.NewStatus,
		Failures:            failures,
		AuditLogID:          result.AuditLogID,
		Message:             message,
	})
}

type promoteRequest struct {
	Type      string `json:"type" validate:"required,oneof=company people"`
	BatchSize int    `json:"batch_size" validate:"gte=0"`
}

type promoteSummary struct {
	PromotionSuccessRate float64 `json:"promotion_success_rate"`
}

type promoteResponse struct {
	Success      bool                       `json:"success"`
	BatchID      uuid.UUID                  `json:"batch_id"`
	Kind         domain.EntityKind          `json:"kind"`
	RowsPromoted int                        `json:"rows_promoted"`
	RowsFailed   int                        `json:"rows_failed"`
	Details      []pipeline.PromotionDetail `json:"details"`
	Summary      promoteSummary             `json:"summary"`
	Error        string                     `json:"error,omitempty"`
}

// handlePromote answers 200 for partial failures. Only a batch-fatal error,
// where the failure itself could not be audited, yields a 5xx.
func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind := domain.EntityKind(req.Type)
	result, err := h.deps.Promotion.Promote(r.Context(), kind, req.BatchSize)

	details := result.Details
	if details == nil {
		details = []pipeline.PromotionDetail{}
	}
	resp := promoteResponse{
		Success:      err == nil,
		BatchID:      result.BatchID,
		Kind:         kind,
		RowsPromoted: result.RowsPromoted,
		RowsFailed:   result.RowsFailed,
		Details:      details,
		Summary:      promoteSummary{PromotionSuccessRate: result.SuccessRate()},
	}
	if err != nil {
		resp.Error = err.Error()
		status := statusFor(err)
		if status < http.StatusInternalServerError {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
