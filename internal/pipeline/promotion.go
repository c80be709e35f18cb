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
)

// Promotion detail statuses.
const (
	StatusPromoted = "promoted"
	StatusFailed   = "failed"
)

// PromotionDetail is the outcome for one candidate record.
type PromotionDetail struct {
	UniqueID   string `json:"unique_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	AuditLogID *int64 `json:"audit_log_id,omitempty"`
}

// BatchResult summarises one promotion batch. Details follow processing order.
type BatchResult struct {
	BatchID      uuid.UUID         `json:"batch_id"`
	Kind         domain.EntityKind `json:"kind"`
	RowsPromoted int               `json:"rows_promoted"`
	RowsFailed   int               `json:"rows_failed"`
	Details      []PromotionDetail `json:"details"`
}

// SuccessRate is promoted / attempted, or 0 when nothing was attempted.
func (r BatchResult) SuccessRate() float64 {
	attempted := r.RowsPromoted + r.RowsFailed
	if attempted == 0 {
		return 0
	}
	return float64(r.RowsPromoted) / float64(attempted)
}

func (r *BatchResult) add(detail PromotionDetail) {
	if detail.Status == StatusPromoted {
		r.RowsPromoted++
	} else {
		r.RowsFailed++
	}
	r.Details = append(r.Details, detail)
}

// PromotionEngine copies passed intake records into the master table.
type PromotionEngine struct {
	store repository.Store
	audit *audit.Logger
	cfg   Config
	now   func() time.Time
}

func NewPromotionEngine(store repository.Store, cfg Config) *PromotionEngine {
	return &PromotionEngine{
		store: store,
		audit: audit.NewLogger(store.Audit()),
		cfg:   cfg,
		now:   time.Now,
	}
}

// Promote attempts up to batchSize eligible records in FIFO order. Each record
// commits or rolls back on its own; failures are contained in the result. The
// returned error is non-nil only when the batch could not run or had to stop,
// and the partial result is returned alongside it.
func (e *PromotionEngine) Promote(ctx context.Context, kind domain.EntityKind, batchSize int) (BatchResult, error) {
	if err := requireKind(kind); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: uuid.New(), Kind: kind, Details: []PromotionDetail{}}
	ctx = logger.WithBatchID(ctx, result.BatchID.String())
	started := time.Now()
	defer metrics.ObserveBatch("promote", string(kind), started)

	candidates, err := e.store.Intake().GetEligibleForPromotion(ctx, kind, e.cfg.BatchSize(batchSize))
	if err != nil {
		return result, fmt.Errorf("failed to select eligible records: %w", err)
	}

	logger.Info(ctx, "promotion batch started", "kind", kind, "candidates", len(candidates))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			logger.Warn(ctx, "promotion batch interrupted", "kind", kind, "processed", len(result.Details))
			return result, err
		}

		detail, fatal := e.promoteOne(ctx, kind, result.BatchID, candidate)
		result.add(detail)
		metrics.ObserveRecord("promote", string(kind), detail.Status)
		if fatal != nil {
			logger.Error(ctx, "promotion batch aborted", "kind", kind, "unique_id", candidate.UniqueID, "error", fatal)
			return result, fatal
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	logger.Info(ctx, "promotion batch finished",
		"kind", kind,
		"promoted", result.RowsPromoted,
		"failed", result.RowsFailed,
		"success_rate", result.SuccessRate(),
	)
	return result, nil
}

func (e *PromotionEngine) promoteOne(ctx context.Context, kind domain.EntityKind, batchID uuid.UUID, candidate domain.IntakeRecord) (PromotionDetail, error) {
	uniqueID := candidate.UniqueID
	recordCtx, cancel := e.cfg.recordContext(ctx)
	defer cancel()

	var logID int64
	err := e.store.WithTx(recordCtx, func(tx repository.Store) error {
		current, err := tx.Intake().GetForUpdate(recordCtx, kind, uniqueID)
		if err != nil {
			return err
		}
		if !current.EligibleForPromotion() {
			return &domain.ConflictError{UniqueID: uniqueID, Reason: "record is no longer eligible for promotion"}
		}

		exists, err := tx.Master().Exists(recordCtx, kind, uniqueID)
		if err != nil {
			return err
		}
		if exists {
			return &domain.ConflictError{UniqueID: uniqueID, Reason: "master record already exists"}
		}

		entry, err := e.audit.With(tx.Audit()).Append(recordCtx, kind, domain.AuditEntry{
			BatchID:        batchID,
			UniqueID:       uniqueID,
			Action:         domain.AuditActionPromote,
			BeforeSnapshot: current.Payload.Clone(),
			AfterSnapshot:  current.Payload.Clone(),
			Status:         domain.AuditStatusSuccess,
		})
		if err != nil {
			return err
		}

		master, err := tx.Master().Insert(recordCtx, domain.NewMasterRecord(current, entry.LogID, e.now()))
		if err != nil {
			return err
		}
		if master.UniqueID != current.UniqueID {
			return fmt.Errorf("master unique_id %q does not match intake unique_id %q", master.UniqueID, current.UniqueID)
		}

		if err := tx.Intake().MarkPromoted(recordCtx, kind, uniqueID, entry.LogID); err != nil {
			return err
		}
		logID = entry.LogID
		return nil
	})
	if err == nil {
		return PromotionDetail{UniqueID: uniqueID, Status: StatusPromoted, AuditLogID: &logID}, nil
	}

	detail := PromotionDetail{
		UniqueID:  uniqueID,
		Status:    StatusFailed,
		Error:     err.Error(),
		ErrorType: ErrorType(err),
	}
	logger.Warn(ctx, "record promotion failed", "kind", kind, "unique_id", uniqueID, "error_type", detail.ErrorType, "error", err)

	// The failure is recorded even when the parent context is already cancelled.
	message := err.Error()
	failed, auditErr := e.audit.Append(context.WithoutCancel(ctx), kind, domain.AuditEntry{
		BatchID:       batchID,
		UniqueID:      uniqueID,
		Action:        domain.AuditActionPromoteFailed,
		AfterSnapshot: candidate.Payload.Clone(),
		Status:        domain.AuditStatusFailed,
		ErrorDetail:   &message,
	})
	if auditErr != nil {
		return detail, fmt.Errorf("%w: could not record promotion failure for %s: %w", ErrBatchAborted, uniqueID, auditErr)
	}
	detail.AuditLogID = &failed.LogID
	return detail, nil
}
