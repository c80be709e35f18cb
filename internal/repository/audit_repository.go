package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/outreach-core/internal/domain"
)

const auditColumns = `log_id, batch_id, unique_id, action, before_snapshot, after_snapshot, status, error_detail, created_at`

type auditRepository struct {
	q querier
}

func (r *auditRepository) Append(ctx context.Context, kind domain.EntityKind, entry domain.AuditEntry) (domain.AuditEntry, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return domain.AuditEntry{}, err
	}

	before, err := domain.EncodePayload(entry.BeforeSnapshot)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	after, err := domain.EncodePayload(entry.AfterSnapshot)
	if err != nil {
		return domain.AuditEntry{}, err
	}

	var errorDetail any
	if entry.ErrorDetail != nil {
		errorDetail = *entry.ErrorDetail
	}

	err = r.q.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (batch_id, unique_id, action, before_snapshot, after_snapshot, status, error_detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING log_id, created_at`, tables.audit),
		entry.BatchID,
		entry.UniqueID,
		string(entry.Action),
		before,
		after,
		string(entry.Status),
		errorDetail,
	).Scan(&entry.LogID, &entry.CreatedAt)
	if err != nil {
		return domain.AuditEntry{}, classify("append audit entry", err)
	}

	return entry, nil
}

func (r *auditRepository) ListByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string, limit int) ([]domain.AuditEntry, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE unique_id = $1
		 ORDER BY log_id DESC
		 LIMIT $2`, auditColumns, tables.audit),
		uniqueID,
		limit,
	)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	return collectAudit(rows)
}

func (r *auditRepository) List(ctx context.Context, kind domain.EntityKind, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	filter = filter.Normalize()

	var (
		conditions []string
		args       []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Action != nil {
		add("action = $%d", string(*filter.Action))
	}
	if filter.BatchID != nil {
		add("batch_id = $%d", *filter.BatchID)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", auditColumns, tables.audit)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY log_id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query audit log", err)
	}
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry       domain.AuditEntry
			action      string
			status      string
			before      []byte
			after       []byte
			errorDetail pgtype.Text
		)
		if err := rows.Scan(
			&entry.LogID,
			&entry.BatchID,
			&entry.UniqueID,
			&action,
			&before,
			&after,
			&status,
			&errorDetail,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		var err error
		if entry.BeforeSnapshot, err = domain.DecodePayload(before); err != nil {
			return nil, fmt.Errorf("failed to decode before snapshot of log %d: %w", entry.LogID, err)
		}
		if entry.AfterSnapshot, err = domain.DecodePayload(after); err != nil {
			return nil, fmt.Errorf("failed to decode after snapshot of log %d: %w", entry.LogID, err)
		}
		entry.Action = domain.AuditAction(action)
		entry.Status = domain.AuditStatus(status)
		if errorDetail.Valid {
			detail := errorDetail.String
			entry.ErrorDetail = &detail
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate audit entries", err)
	}
	return entries, nil
}
