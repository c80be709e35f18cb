package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/outreach-core/internal/domain"
)

type masterRepository struct {
	q querier
}

func (r *masterRepository) Insert(ctx context.Context, record domain.MasterRecord) (domain.MasterRecord, error) {
	tables, err := tablesFor(record.Kind)
	if err != nil {
		return domain.MasterRecord{}, err
	}

	payloadJSON, err := domain.EncodePayload(record.Payload)
	if err != nil {
		return domain.MasterRecord{}, err
	}
	if payloadJSON == nil {
		payloadJSON = []byte("{}")
	}

	_, err = r.q.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (unique_id, payload, promoted_from_intake_at, promotion_audit_log_id)
		 VALUES ($1, $2, $3, $4)`, tables.master),
		record.UniqueID,
		payloadJSON,
		record.PromotedFromIntakeAt,
		record.PromotionAuditLogID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.MasterRecord{}, &domain.ConflictError{UniqueID: record.UniqueID, Reason: "master record already exists"}
		}
		return domain.MasterRecord{}, classify("insert master record", err)
	}

	return r.GetByUniqueID(ctx, record.Kind, record.UniqueID)
}

func (r *masterRepository) Exists(ctx context.Context, kind domain.EntityKind, uniqueID string) (bool, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.q.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE unique_id = $1)`, tables.master),
		uniqueID,
	).Scan(&exists)
	if err != nil {
		return false, classify("check master record", err)
	}
	return exists, nil
}

func (r *masterRepository) GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.MasterRecord, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return domain.MasterRecord{}, err
	}

	var (
		record      domain.MasterRecord
		payloadJSON []byte
	)
	err = r.q.QueryRow(ctx, fmt.Sprintf(
		`SELECT unique_id, payload, promoted_from_intake_at, promotion_audit_log_id
		 FROM %s WHERE unique_id = $1`, tables.master),
		uniqueID,
	).Scan(&record.UniqueID, &payloadJSON, &record.PromotedFromIntakeAt, &record.PromotionAuditLogID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MasterRecord{}, &domain.NotFoundError{Kind: kind, UniqueID: uniqueID}
		}
		return domain.MasterRecord{}, classify("get master record", err)
	}

	payload, err := domain.DecodePayload(payloadJSON)
	if err != nil {
		return domain.MasterRecord{}, fmt.Errorf("failed to decode master payload for %s: %w", uniqueID, err)
	}
	if payload == nil {
		payload = domain.Payload{}
	}
	record.Kind = kind
	record.Payload = payload
	return record, nil
}
