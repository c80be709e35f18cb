// Package audit is the append-only trail of pipeline actions.
package audit

import (
	"context"
	"fmt"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/metrics"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/pkg/logger"
)

// Logger validates entries before they reach the audit repository. It exposes
// no way to change or remove an entry once written.
type Logger struct {
	repo repository.AuditRepository
}

func NewLogger(repo repository.AuditRepository) *Logger {
	return &Logger{repo: repo}
}

// Append writes entry and returns it with its assigned log_id and created_at.
func (l *Logger) Append(ctx context.Context, kind domain.EntityKind, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if err := entry.Validate(); err != nil {
		return domain.AuditEntry{}, err
	}

	written, err := l.repo.Append(ctx, kind, entry)
	if err != nil {
		metrics.ObserveAuditFailure(string(kind), string(entry.Action))
		logger.Error(ctx, "audit append failed",
			"kind", kind,
			"unique_id", entry.UniqueID,
			"action", entry.Action,
			"error", err,
		)
		return domain.AuditEntry{}, fmt.Errorf("failed to append %s audit entry for %s: %w", entry.Action, entry.UniqueID, err)
	}
	return written, nil
}

// ListByUniqueID returns the history of one record, newest first.
func (l *Logger) ListByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string, limit int) ([]domain.AuditEntry, error) {
	entries, err := l.repo.ListByUniqueID(ctx, kind, uniqueID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit history for %s: %w", uniqueID, err)
	}
	return entries, nil
}

// Query serves the audit viewer, newest first.
func (l *Logger) Query(ctx context.Context, kind domain.EntityKind, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	filter = filter.Normalize()
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("invalid audit filter: to is before from")
	}
	entries, err := l.repo.List(ctx, kind, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return entries, nil
}

// With returns a Logger bound to another repository, typically a transaction's.
func (l *Logger) With(repo repository.AuditRepository) *Logger {
	return &Logger{repo: repo}
}
