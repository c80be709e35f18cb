package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind selects which family of intake/master/audit tables a record belongs to.
type EntityKind string

const (
	EntityKindCompany EntityKind = "company"
	EntityKindPeople  EntityKind = "people"
)

// EntityKinds lists every supported kind in a stable order.
var EntityKinds = []EntityKind{EntityKindCompany, EntityKindPeople}

// ParseEntityKind accepts the kind name case-insensitively.
func ParseEntityKind(raw string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", raw)
	}
	return kind, nil
}

// Valid reports whether the kind is one of the supported kinds.
func (k EntityKind) Valid() bool {
	return k == EntityKindCompany || k == EntityKindPeople
}

// ValidationStatus is the outcome of the last validator run on an intake record.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
)

// ParseValidationStatus converts raw input into a ValidationStatus.
func ParseValidationStatus(raw string) (ValidationStatus, error) {
	status := ValidationStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case ValidationPending, ValidationPassed, ValidationFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown validation status %q", raw)
	}
}

// PromotionStatus tracks whether an intake record has been copied to the master table.
type PromotionStatus string

const (
	NotPromoted PromotionStatus = "not_promoted"
	Promoted    PromotionStatus = "promoted"
)

// ValidationFailure describes a single failed rule.
type ValidationFailure struct {
	Field     string `json:"field"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// ValidationResult is the validator's verdict for one payload.
type ValidationResult struct {
	Status   ValidationStatus    `json:"status"`
	Failures []ValidationFailure `json:"failures"`
}

// Passed reports whether the result carries no failures.
func (r ValidationResult) Passed() bool {
	return r.Status == ValidationPassed
}

// IntakeRecord is a raw company or person record moving through validation and promotion.
type IntakeRecord struct {
	UniqueID            string              `json:"unique_id"`
	Kind                EntityKind          `json:"kind"`
	Payload             Payload             `json:"payload"`
	ValidationStatus    ValidationStatus    `json:"validation_status"`
	PromotionStatus     PromotionStatus     `json:"promotion_status"`
	ValidationFailures  []ValidationFailure `json:"validation_failures"`
	IngestBatchID       *uuid.UUID          `json:"ingest_batch_id,omitempty"`
	PromotionAuditLogID *int64              `json:"promotion_audit_log_id,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	ValidatedAt         *time.Time          `json:"validated_at,omitempty"`
	PromotedAt          *time.Time          `json:"promoted_at,omitempty"`
}

// NewIntakeRecord creates a pending, unpromoted record.
func NewIntakeRecord(kind EntityKind, uniqueID string, payload Payload, ingestBatchID *uuid.UUID) IntakeRecord {
	now := time.Now()
	return IntakeRecord{
		UniqueID:           uniqueID,
		Kind:               kind,
		Payload:            payload.Clone(),
		ValidationStatus:   ValidationPending,
		PromotionStatus:    NotPromoted,
		ValidationFailures: []ValidationFailure{},
		IngestBatchID:      ingestBatchID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// EligibleForPromotion is true for passed records that have not been promoted yet.
func (r IntakeRecord) EligibleForPromotion() bool {
	return r.ValidationStatus == ValidationPassed && r.PromotionStatus == NotPromoted
}

// WithValidation returns a copy carrying the given validation result.
func (r IntakeRecord) WithValidation(result ValidationResult, at time.Time) IntakeRecord {
	updated := r.Clone()
	updated.ValidationStatus = result.Status
	updated.ValidationFailures = cloneFailures(result.Failures)
	updated.ValidatedAt = &at
	updated.UpdatedAt = at
	return updated
}

// Clone returns a deep copy of the record.
func (r IntakeRecord) Clone() IntakeRecord {
	c := r
	c.Payload = r.Payload.Clone()
	c.ValidationFailures = cloneFailures(r.ValidationFailures)
	if r.IngestBatchID != nil {
		id := *r.IngestBatchID
		c.IngestBatchID = &id
	}
	if r.PromotionAuditLogID != nil {
		id := *r.PromotionAuditLogID
		c.PromotionAuditLogID = &id
	}
	if r.ValidatedAt != nil {
		t := *r.ValidatedAt
		c.ValidatedAt = &t
	}
	if r.PromotedAt != nil {
		t := *r.PromotedAt
		c.PromotedAt = &t
	}
	return c
}

// MasterRecord is the canonical copy of a promoted intake record.
type MasterRecord struct {
	UniqueID             string     `json:"unique_id"`
	Kind                 EntityKind `json:"kind"`
	Payload              Payload    `json:"payload"`
	PromotedFromIntakeAt time.Time  `json:"promoted_from_intake_at"`
	PromotionAuditLogID  int64      `json:"promotion_audit_log_id"`
}

// NewMasterRecord snapshots an intake record for promotion.
func NewMasterRecord(intake IntakeRecord, auditLogID int64, at time.Time) MasterRecord {
	return MasterRecord{
		UniqueID:             intake.UniqueID,
		Kind:                 intake.Kind,
		Payload:              intake.Payload.Clone(),
		PromotedFromIntakeAt: at,
		PromotionAuditLogID:  auditLogID,
	}
}

// StatusCount is one cell of the status breakdown for an entity kind.
type StatusCount struct {
	ValidationStatus ValidationStatus `json:"validation_status"`
	PromotionStatus  PromotionStatus  `json:"promotion_status"`
	Count            int64            `json:"count"`
}

func cloneFailures(failures []ValidationFailure) []ValidationFailure {
	out := make([]ValidationFailure, len(failures))
	copy(out, failures)
	return out
}
