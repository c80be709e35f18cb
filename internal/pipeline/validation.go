package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/audit"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/metrics"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/pkg/logger"
	"github.com/rpattn/outreach-core/pkg/validator"
)

// ValidateOptions selects the records for a validation run.
type ValidateOptions struct {
	// IngestBatchID restricts the run to one import.
	IngestBatchID *uuid.UUID
	Limit         int
	// Statuses defaults to pending.
	Statuses []domain.ValidationStatus
}

// ValidateResult summarises a validation run.
type ValidateResult struct {
	BatchID       uuid.UUID         `json:"batch_id"`
	Kind          domain.EntityKind `json:"kind"`
	RowsValidated int               `json:"rows_validated"`
	RowsPassed    int               `json:"rows_passed"`
	RowsFailed    int               `json:"rows_failed"`
	Errors        []RecordError     `json:"errors"`
}

// ValidationService runs the validator over stored intake records.
type ValidationService struct {
	store     repository.Store
	validator *validator.RecordValidator
	audit     *audit.Logger
	cfg       Config
}

func NewValidationService(store repository.Store, v *validator.RecordValidator, cfg Config) *ValidationService {
	return &ValidationService{
		store:     store,
		validator: v,
		audit:     audit.NewLogger(store.Audit()),
		cfg:       cfg,
	}
}

// ValidateBatch validates up to opts.Limit records, each in its own transaction.
func (s *ValidationService) ValidateBatch(ctx context.Context, kind domain.EntityKind, opts ValidateOptions) (ValidateResult, error) {
	if err := requireKind(kind); err != nil {
		return ValidateResult{}, err
	}

	result := ValidateResult{BatchID: uuid.New(), Kind: kind, Errors: []RecordError{}}
	ctx = logger.WithBatchID(ctx, result.BatchID.String())
	started := time.Now()
	defer metrics.ObserveBatch("validate", string(kind), started)

	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []domain.ValidationStatus{domain.ValidationPending}
	}
	records, err := s.store.Intake().ListForValidation(ctx, kind, repository.ValidationFilter{
		Statuses:      statuses,
		IngestBatchID: opts.IngestBatchID,
		Limit:         s.cfg.BatchSize(opts.Limit),
	})
	if err != nil {
		return result, fmt.Errorf("failed to select records for validation: %w", err)
	}

	logger.Info(ctx, "validation batch started", "kind", kind, "candidates", len(records))

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, err := s.validateOne(ctx, kind, result.BatchID, record.UniqueID)
		if err != nil {
			logger.Warn(ctx, "record validation failed", "kind", kind, "unique_id", record.UniqueID, "error", err)
			metrics.ObserveRecord("validate", string(kind), "error")
			result.Errors = append(result.Errors, newRecordError(record.UniqueID, err))
			continue
		}

		result.RowsValidated++
		if outcome.Passed() {
			result.RowsPassed++
			metrics.ObserveRecord("validate", string(kind), "passed")
		} else {
			result.RowsFailed++
			metrics.ObserveRecord("validate", string(kind), "failed")
		}
	}

	logger.Info(ctx, "validation batch finished",
		"kind", kind,
		"validated", result.RowsValidated,
		"passed", result.RowsPassed,
		"failed", result.RowsFailed,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (s *ValidationService) validateOne(ctx context.Context, kind domain.EntityKind, batchID uuid.UUID, uniqueID string) (domain.ValidationResult, error) {
	recordCtx, cancel := s.cfg.recordContext(ctx)
	defer cancel()

	var outcome domain.ValidationResult
	err := s.store.WithTx(recordCtx, func(tx repository.Store) error {
		current, err := tx.Intake().GetForUpdate(recordCtx, kind, uniqueID)
		if err != nil {
			return err
		}
		if current.PromotionStatus == domain.Promoted {
			return &domain.ConflictError{UniqueID: uniqueID, Reason: "record already promoted"}
		}

		outcome = s.validator.Validate(kind, current.Payload)
		if err := tx.Intake().SaveValidation(recordCtx, kind, uniqueID, outcome); err != nil {
			return err
		}

		entry := domain.AuditEntry{
			BatchID:  batchID,
			UniqueID: uniqueID,
			Action:   domain.AuditActionValidate,
			Status:   domain.AuditStatusSuccess,
		}
		if !outcome.Passed() {
			detail := failureSummary(outcome.Failures)
			entry.Status = domain.AuditStatusFailed
			entry.ErrorDetail = &detail
		}
		_, err = s.audit.With(tx.Audit()).Append(recordCtx, kind, entry)
		return err
	})
	return outcome, err
}
