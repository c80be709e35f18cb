package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/repository/memory"
)

func seedPending(t *testing.T, store *memory.Store, id string, payload domain.Payload, batch *uuid.UUID) {
	t.Helper()
	_, err := store.Intake().Create(context.Background(), domain.NewIntakeRecord(domain.EntityKindCompany, id, payload, batch))
	require.NoError(t, err)
}

func TestValidateBatchSavesResultsAndAudits(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, companyID(1), domain.Payload{"company_name": "", "website_url": "http://x.com"}, nil)
	seedPending(t, store, companyID(2), domain.Payload{"company_name": "Acme"}, nil)
	service := NewValidationService(store, newValidator(), DefaultConfig())

	result, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowsValidated)
	assert.Equal(t, 1, result.RowsPassed)
	assert.Equal(t, 1, result.RowsFailed)
	assert.Empty(t, result.Errors)

	failed, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, companyID(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationFailed, failed.ValidationStatus)
	require.Len(t, failed.ValidationFailures, 1)
	assert.Equal(t, "company_name", failed.ValidationFailures[0].Field)
	assert.Equal(t, "missing_required_field", failed.ValidationFailures[0].ErrorType)
	assert.NotNil(t, failed.ValidatedAt)

	entries := auditFor(t, store, companyID(1))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionValidate, entries[0].Action)
	assert.Equal(t, domain.AuditStatusFailed, entries[0].Status)
	require.NotNil(t, entries[0].ErrorDetail)
	assert.Equal(t, "company_name: missing_required_field", *entries[0].ErrorDetail)
	assert.Equal(t, result.BatchID, entries[0].BatchID)

	passed := auditFor(t, store, companyID(2))
	require.Len(t, passed, 1)
	assert.Equal(t, domain.AuditStatusSuccess, passed[0].Status)
}

func TestValidateBatchDefaultsToPending(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, companyID(1), domain.Payload{"company_name": "Acme"}, nil)
	service := NewValidationService(store, newValidator(), DefaultConfig())

	_, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{})
	require.NoError(t, err)

	again, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.RowsValidated, "passed records are not re-selected by default")

	recheck, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{
		Statuses: []domain.ValidationStatus{domain.ValidationPassed},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recheck.RowsValidated)
}

func TestValidateBatchFiltersByIngestBatch(t *testing.T) {
	store := memory.NewStore()
	importA, importB := uuid.New(), uuid.New()
	seedPending(t, store, companyID(1), domain.Payload{"company_name": "A"}, &importA)
	seedPending(t, store, companyID(2), domain.Payload{"company_name": "B"}, &importB)
	service := NewValidationService(store, newValidator(), DefaultConfig())

	result, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{IngestBatchID: &importB})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsValidated)

	untouched, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, companyID(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationPending, untouched.ValidationStatus)
}

func TestValidateBatchReportsStoreErrorsAndContinues(t *testing.T) {
	inner := memory.NewStore()
	seedPending(t, inner, companyID(1), domain.Payload{"company_name": "A"}, nil)
	seedPending(t, inner, companyID(2), domain.Payload{"company_name": "B"}, nil)
	store := newFaultyStore(inner)
	calls := 0
	store.f.beforeTx = func(int) { calls++ }
	store.f.auditErr[domain.AuditActionValidate] = &domain.StoreUnavailableError{Op: "append audit entry", Err: errors.New("timeout")}
	service := NewValidationService(store, newValidator(), DefaultConfig())

	result, err := service.ValidateBatch(context.Background(), domain.EntityKindCompany, ValidateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "every record is attempted")
	assert.Equal(t, 0, result.RowsValidated)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, ErrorTypeStoreUnavailable, result.Errors[0].ErrorType)

	record, err := inner.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, companyID(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationPending, record.ValidationStatus, "rolled back with the audit failure")
}

func TestValidateBatchUnknownKind(t *testing.T) {
	service := NewValidationService(memory.NewStore(), newValidator(), DefaultConfig())
	_, err := service.ValidateBatch(context.Background(), domain.EntityKind("vendor"), ValidateOptions{})
	assert.Error(t, err)
}
