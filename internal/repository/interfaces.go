package repository

import (
	"context"

	"github.com/rpattn/outreach-core/internal/domain"

	"github.com/google/uuid"
)

// IntakeRepository defines the interface for intake record operations
type IntakeRepository interface {
	Create(ctx context.Context, record domain.IntakeRecord) (domain.IntakeRecord, error)
	NextSequence(ctx context.Context, kind domain.EntityKind) (int64, error)
	GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error)
	GetByUniqueIDs(ctx context.Context, kind domain.EntityKind, uniqueIDs []string) ([]domain.IntakeRecord, error)
	// GetForUpdate reads a record and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error)
	GetEligibleForPromotion(ctx context.Context, kind domain.EntityKind, limit int) ([]domain.IntakeRecord, error)
	ListForValidation(ctx context.Context, kind domain.EntityKind, filter ValidationFilter) ([]domain.IntakeRecord, error)
	SaveValidation(ctx context.Context, kind domain.EntityKind, uniqueID string, result domain.ValidationResult) error
	SavePayload(ctx context.Context, kind domain.EntityKind, uniqueID string, payload domain.Payload, result domain.ValidationResult) error
	// MarkPromoted fails with a ConflictError unless the record is passed and not yet promoted.
	MarkPromoted(ctx context.Context, kind domain.EntityKind, uniqueID string, auditLogID int64) error
	Stats(ctx context.Context, kind domain.EntityKind) ([]domain.StatusCount, error)
}

// ValidationFilter selects intake records for a validation run.
type ValidationFilter struct {
	Statuses      []domain.ValidationStatus
	IngestBatchID *uuid.UUID
	Limit         int
}

// MasterRepository defines the interface for master record operations
type MasterRepository interface {
	// Insert fails with a ConflictError when a master record already exists for the unique_id.
	Insert(ctx context.Context, record domain.MasterRecord) (domain.MasterRecord, error)
	Exists(ctx context.Context, kind domain.EntityKind, uniqueID string) (bool, error)
	GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.MasterRecord, error)
}

// AuditRepository is the append-only store behind the audit logger.
type AuditRepository interface {
	Append(ctx context.Context, kind domain.EntityKind, entry domain.AuditEntry) (domain.AuditEntry, error)
	ListByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string, limit int) ([]domain.AuditEntry, error)
	List(ctx context.Context, kind domain.EntityKind, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// Store bundles the repositories that share a transaction boundary.
type Store interface {
	Intake() IntakeRepository
	Master() MasterRepository
	Audit() AuditRepository
	// WithTx runs fn against a transaction-scoped Store. Returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
