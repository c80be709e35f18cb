package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/outreach-core/internal/domain"
)

const intakeColumns = `unique_id, ingest_batch_id, payload, validation_status, promotion_status,
	validation_failures, promotion_audit_log_id, created_at, updated_at, validated_at, promoted_at`

type intakeRepository struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *intakeRepository) Create(ctx context.Context, record domain.IntakeRecord) (domain.IntakeRecord, error) {
	tables, err := tablesFor(record.Kind)
	if err != nil {
		return domain.IntakeRecord{}, err
	}

	payloadJSON, err := json.Marshal(record.Payload.Clone())
	if err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	failuresJSON, err := marshalFailures(record.ValidationFailures)
	if err != nil {
		return domain.IntakeRecord{}, err
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := record.ValidationStatus
	if status == "" {
		status = domain.ValidationPending
	}

	row := r.q.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (unique_id, ingest_batch_id, payload, validation_status, promotion_status,
			validation_failures, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'not_promoted', $5, $6, $6)
		 RETURNING %s`, tables.intake, intakeColumns),
		record.UniqueID,
		record.IngestBatchID,
		payloadJSON,
		string(status),
		failuresJSON,
		createdAt,
	)

	created, err := scanIntake(row, record.Kind)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.IntakeRecord{}, &domain.ConflictError{UniqueID: record.UniqueID, Reason: "intake record already exists"}
		}
		return domain.IntakeRecord{}, classify("create intake record", err)
	}
	return created, nil
}

func (r *intakeRepository) NextSequence(ctx context.Context, kind domain.EntityKind) (int64, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	var next int64
	if err := r.q.QueryRow(ctx, "SELECT nextval($1::regclass)", tables.sequence).Scan(&next); err != nil {
		return 0, classify("allocate intake sequence", err)
	}
	return next, nil
}

func (r *intakeRepository) GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error) {
	return r.getOne(ctx, kind, uniqueID, "")
}

func (r *intakeRepository) GetForUpdate(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error) {
	return r.getOne(ctx, kind, uniqueID, " FOR UPDATE")
}

func (r *intakeRepository) getOne(ctx context.Context, kind domain.EntityKind, uniqueID string, lockClause string) (domain.IntakeRecord, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return domain.IntakeRecord{}, err
	}

	row := r.q.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE unique_id = $1%s`, intakeColumns, tables.intake, lockClause),
		uniqueID,
	)
	record, err := scanIntake(row, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IntakeRecord{}, &domain.NotFoundError{Kind: kind, UniqueID: uniqueID}
		}
		return domain.IntakeRecord{}, classify("get intake record", err)
	}
	return record, nil
}

func (r *intakeRepository) GetByUniqueIDs(ctx context.Context, kind domain.EntityKind, uniqueIDs []string) ([]domain.IntakeRecord, error) {
	if len(uniqueIDs) == 0 {
		return []domain.IntakeRecord{}, nil
	}
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE unique_id = ANY($1) ORDER BY created_at, unique_id`, intakeColumns, tables.intake),
		uniqueIDs,
	)
	if err != nil {
		return nil, classify("get intake records", err)
	}
	return collectIntake(rows, kind)
}

func (r *intakeRepository) GetEligibleForPromotion(ctx context.Context, kind domain.EntityKind, limit int) ([]domain.IntakeRecord, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.IntakeRecord{}, nil
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE validation_status = 'passed' AND promotion_status = 'not_promoted'
		 ORDER BY created_at ASC, unique_id ASC
		 LIMIT $1`, intakeColumns, tables.intake),
		limit,
	)
	if err != nil {
		return nil, classify("select eligible records", err)
	}
	return collectIntake(rows, kind)
}

func (r *intakeRepository) ListForValidation(ctx context.Context, kind domain.EntityKind, filter ValidationFilter) ([]domain.IntakeRecord, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	if len(statuses) == 0 {
		statuses = append(statuses, string(domain.ValidationPending))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE promotion_status = 'not_promoted'
		   AND validation_status = ANY($1)
		   AND ($2::uuid IS NULL OR ingest_batch_id = $2)
		 ORDER BY created_at ASC, unique_id ASC
		 LIMIT $3`, intakeColumns, tables.intake),
		statuses,
		filter.IngestBatchID,
		limit,
	)
	if err != nil {
		return nil, classify("list records for validation", err)
	}
	return collectIntake(rows, kind)
}

func (r *intakeRepository) SaveValidation(ctx context.Context, kind domain.EntityKind, uniqueID string, result domain.ValidationResult) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}
	failuresJSON, err := marshalFailures(result.Failures)
	if err != nil {
		return err
	}

	tag, err := r.q.Exec(ctx, fmt.Sprintf(
		`UPDATE %s
		 SET validation_status = $2, validation_failures = $3, validated_at = now(), updated_at = now()
		 WHERE unique_id = $1 AND promotion_status = 'not_promoted'`, tables.intake),
		uniqueID,
		string(result.Status),
		failuresJSON,
	)
	if err != nil {
		return classify("save validation result", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, kind, uniqueID, "record already promoted")
	}
	return nil
}

func (r *intakeRepository) SavePayload(ctx context.Context, kind domain.EntityKind, uniqueID string, payload domain.Payload, result domain.ValidationResult) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	failuresJSON, err := marshalFailures(result.Failures)
	if err != nil {
		return err
	}

	tag, err := r.q.Exec(ctx, fmt.Sprintf(
		`UPDATE %s
		 SET payload = $2, validation_status = $3, validation_failures = $4,
		     validated_at = now(), updated_at = now()
		 WHERE unique_id = $1 AND promotion_status = 'not_promoted'`, tables.intake),
		uniqueID,
		payloadJSON,
		string(result.Status),
		failuresJSON,
	)
	if err != nil {
		return classify("save adjusted payload", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, kind, uniqueID, "record already promoted")
	}
	return nil
}

func (r *intakeRepository) MarkPromoted(ctx context.Context, kind domain.EntityKind, uniqueID string, auditLogID int64) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}

	tag, err := r.q.Exec(ctx, fmt.Sprintf(
		`UPDATE %s
		 SET promotion_status = 'promoted', promotion_audit_log_id = $2, promoted_at = now(), updated_at = now()
		 WHERE unique_id = $1 AND validation_status = 'passed' AND promotion_status = 'not_promoted'`, tables.intake),
		uniqueID,
		auditLogID,
	)
	if err != nil {
		return classify("mark record promoted", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, kind, uniqueID, "record is not eligible for promotion")
	}
	return nil
}

func (r *intakeRepository) Stats(ctx context.Context, kind domain.EntityKind) ([]domain.StatusCount, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT validation_status, promotion_status, count(*)
		 FROM %s
		 GROUP BY validation_status, promotion_status
		 ORDER BY validation_status, promotion_status`, tables.intake))
	if err != nil {
		return nil, classify("count intake records", err)
	}
	defer rows.Close()

	counts := []domain.StatusCount{}
	for rows.Next() {
		var (
			validation string
			promotion  string
			count      int64
		)
		if err := rows.Scan(&validation, &promotion, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, domain.StatusCount{
			ValidationStatus: domain.ValidationStatus(validation),
			PromotionStatus:  domain.PromotionStatus(promotion),
			Count:            count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate status counts", err)
	}
	return counts, nil
}

func (r *intakeRepository) missingOrConflict(ctx context.Context, kind domain.EntityKind, uniqueID string, reason string) error {
	if _, err := r.GetByUniqueID(ctx, kind, uniqueID); err != nil {
		return err
	}
	return &domain.ConflictError{UniqueID: uniqueID, Reason: reason}
}

func collectIntake(rows pgx.Rows, kind domain.EntityKind) ([]domain.IntakeRecord, error) {
	defer rows.Close()

	records := []domain.IntakeRecord{}
	for rows.Next() {
		record, err := scanIntake(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intake record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate intake records", err)
	}
	return records, nil
}

func scanIntake(row rowScanner, kind domain.EntityKind) (domain.IntakeRecord, error) {
	var (
		record           domain.IntakeRecord
		batchID          pgtype.UUID
		payloadJSON      []byte
		validationStatus string
		promotionStatus  string
		failuresJSON     []byte
		auditLogID       pgtype.Int8
		validatedAt      pgtype.Timestamptz
		promotedAt       pgtype.Timestamptz
	)

	if err := row.Scan(
		&record.UniqueID,
		&batchID,
		&payloadJSON,
		&validationStatus,
		&promotionStatus,
		&failuresJSON,
		&auditLogID,
		&record.CreatedAt,
		&record.UpdatedAt,
		&validatedAt,
		&promotedAt,
	); err != nil {
		return domain.IntakeRecord{}, err
	}

	payload, err := domain.DecodePayload(payloadJSON)
	if err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("failed to decode payload for %s: %w", record.UniqueID, err)
	}
	if payload == nil {
		payload = domain.Payload{}
	}

	failures := []domain.ValidationFailure{}
	if len(failuresJSON) > 0 {
		if err := json.Unmarshal(failuresJSON, &failures); err != nil {
			return domain.IntakeRecord{}, fmt.Errorf("failed to decode validation failures for %s: %w", record.UniqueID, err)
		}
	}

	record.Kind = kind
	record.Payload = payload
	record.ValidationStatus = domain.ValidationStatus(validationStatus)
	record.PromotionStatus = domain.PromotionStatus(promotionStatus)
	record.ValidationFailures = failures

	if batchID.Valid {
		id := uuid.UUID(batchID.Bytes)
		record.IngestBatchID = &id
	}
	if auditLogID.Valid {
		id := auditLogID.Int64
		record.PromotionAuditLogID = &id
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		record.ValidatedAt = &t
	}
	if promotedAt.Valid {
		t := promotedAt.Time
		record.PromotedAt = &t
	}

	return record, nil
}

func marshalFailures(failures []domain.ValidationFailure) ([]byte, error) {
	if failures == nil {
		failures = []domain.ValidationFailure{}
	}
	out, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validation failures: %w", err)
	}
	return out, nil
}
