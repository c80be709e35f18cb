package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction names the pipeline transition an audit entry records.
type AuditAction string

const (
	AuditActionValidate      AuditAction = "validate"
	AuditActionAdjust        AuditAction = "adjust"
	AuditActionPromote       AuditAction = "promote"
	AuditActionPromoteFailed AuditAction = "promote_failed"
)

// Valid reports whether the action is known.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionValidate, AuditActionAdjust, AuditActionPromote, AuditActionPromoteFailed:
		return true
	}
	return false
}

// AuditStatus is the outcome recorded with an audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

// Valid reports whether the status is known.
func (s AuditStatus) Valid() bool {
	return s == AuditStatusSuccess || s == AuditStatusFailed
}

// AuditEntry is one append-only row of an entity kind's audit log.
type AuditEntry struct {
	LogID          int64       `json:"log_id"`
	BatchID        uuid.UUID   `json:"batch_id"`
	UniqueID       string      `json:"unique_id"`
	Action         AuditAction `json:"action"`
	BeforeSnapshot Payload     `json:"before_snapshot"`
	AfterSnapshot  Payload     `json:"after_snapshot"`
	Status         AuditStatus `json:"status"`
	ErrorDetail    *string     `json:"error_detail,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Validate checks that the entry is fit to append.
func (e AuditEntry) Validate() error {
	var problems []string
	if e.LogID != 0 {
		problems = append(problems, "log_id is assigned by the log and must be empty")
	}
	if e.BatchID == uuid.Nil {
		problems = append(problems, "batch_id is required")
	}
	if strings.TrimSpace(e.UniqueID) == "" {
		problems = append(problems, "unique_id is required")
	}
	if !e.Action.Valid() {
		problems = append(problems, fmt.Sprintf("unknown action %q", e.Action))
	}
	if !e.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", e.Status))
	}
	if e.Status == AuditStatusFailed && (e.ErrorDetail == nil || strings.TrimSpace(*e.ErrorDetail) == "") {
		problems = append(problems, "error_detail is required for failed entries")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAuditEntry, strings.Join(problems, "; "))
	}
	return nil
}

// ErrInvalidAuditEntry is returned when an entry fails Validate.
var ErrInvalidAuditEntry = errors.New("invalid audit entry")

// AuditFilter narrows audit log queries for the viewer.
type AuditFilter struct {
	From    *time.Time
	To      *time.Time
	Status  *AuditStatus
	Action  *AuditAction
	BatchID *uuid.UUID
	Limit   int
	Offset  int
}

// Normalize clamps paging values to sane bounds.
func (f AuditFilter) Normalize() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches applies the filter to an entry, used by non-SQL stores.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.BatchID != nil && e.BatchID != *f.BatchID {
		return false
	}
	return true
}
