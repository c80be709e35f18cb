package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/audit"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/metrics"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/pkg/logger"
	"github.com/rpattn/outreach-core/pkg/validator"
)

// immutableFields can never appear in an adjustment.
var immutableFields = map[string]bool{"unique_id": true}

// AdjustResult describes one saved correction.
type AdjustResult struct {
	UniqueID              string                     `json:"unique_id"`
	BatchID               uuid.UUID                  `json:"batch_id"`
	AppliedChanges        []domain.FieldChange       `json:"applied_changes"`
	RevalidationTriggered bool                       `json:"revalidation_triggered"`
	NewStatus             domain.ValidationStatus    `json:"new_status"`
	Failures              []domain.ValidationFailure `json:"failures"`
	AuditLogID            int64                      `json:"audit_log_id"`
}

// Adjuster applies human corrections to intake payloads and re-validates them.
type Adjuster struct {
	store     repository.Store
	validator *validator.RecordValidator
	audit     *audit.Logger
}

func NewAdjuster(store repository.Store, v *validator.RecordValidator) *Adjuster {
	return &Adjuster{store: store, validator: v, audit: audit.NewLogger(store.Audit())}
}

// Adjust merges updates into the record's payload. A nil value clears the field.
// The record is re-validated in the same transaction and one adjust entry is
// written whether or not it now passes.
func (a *Adjuster) Adjust(ctx context.Context, kind domain.EntityKind, uniqueID string, updates map[string]any) (AdjustResult, error) {
	for field := range updates {
		if immutableFields[strings.TrimSpace(field)] {
			return AdjustResult{}, &domain.ImmutableFieldError{Field: strings.TrimSpace(field)}
		}
	}
	if err := requireKind(kind); err != nil {
		return AdjustResult{}, err
	}
	changes, err := domain.NormalizePayload(updates)
	if err != nil {
		return AdjustResult{}, err
	}

	result := AdjustResult{UniqueID: uniqueID, BatchID: uuid.New()}
	ctx = logger.WithBatchID(ctx, result.BatchID.String())
	started := time.Now()
	defer metrics.ObserveBatch("adjust", string(kind), started)

	err = a.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Intake().GetForUpdate(ctx, kind, uniqueID)
		if err != nil {
			return err
		}
		if current.PromotionStatus == domain.Promoted {
			return &domain.ConflictError{UniqueID: uniqueID, Reason: "promoted records cannot be adjusted"}
		}

		before := current.Payload.Clone()
		after := before.Clone()
		for field, value := range changes {
			if value == nil {
				delete(after, field)
				continue
			}
			after[field] = value
		}

		outcome := a.validator.Validate(kind, after)
		if err := tx.Intake().SavePayload(ctx, kind, uniqueID, after, outcome); err != nil {
			return err
		}

		entry, err := a.audit.With(tx.Audit()).Append(ctx, kind, domain.AuditEntry{
			BatchID:        result.BatchID,
			UniqueID:       uniqueID,
			Action:         domain.AuditActionAdjust,
			BeforeSnapshot: before,
			AfterSnapshot:  after,
			Status:         domain.AuditStatusSuccess,
		})
		if err != nil {
			return err
		}

		result.AppliedChanges = domain.DiffPayloads(before, after)
		result.RevalidationTriggered = true
		result.NewStatus = outcome.Status
		result.Failures = outcome.Failures
		result.AuditLogID = entry.LogID
		return nil
	})
	if err != nil {
		metrics.ObserveRecord("adjust", string(kind), "error")
		return AdjustResult{}, fmt.Errorf("failed to adjust %s: %w", uniqueID, err)
	}

	metrics.ObserveRecord("adjust", string(kind), string(result.NewStatus))
	logger.Info(ctx, "record adjusted",
		"kind", kind,
		"unique_id", uniqueID,
		"changes", len(result.AppliedChanges),
		"status", result.NewStatus,
	)
	return result, nil
}
