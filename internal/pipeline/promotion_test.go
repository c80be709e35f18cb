package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/internal/repository/memory"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func companyID(n int) string {
	return fmt.Sprintf("04.04.01.01.%05d.001", n)
}

func seedPassed(t *testing.T, store repository.Store, count int) []string {
	t.Helper()
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = companyID(i + 1)
		record := domain.NewIntakeRecord(domain.EntityKindCompany, ids[i], domain.Payload{
			"company_name": fmt.Sprintf("Company %d", i+1),
			"website_url":  "https://example.com",
		}, nil)
		record.ValidationStatus = domain.ValidationPassed
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := store.Intake().Create(context.Background(), record)
		require.NoError(t, err)
	}
	return ids
}

func auditFor(t *testing.T, store repository.Store, uniqueID string) []domain.AuditEntry {
	t.Helper()
	entries, err := store.Audit().ListByUniqueID(context.Background(), domain.EntityKindCompany, uniqueID, 100)
	require.NoError(t, err)
	return entries
}

func TestPromoteSingleRecordPreservesIdentifier(t *testing.T) {
	store := memory.NewStore()
	ids := seedPassed(t, store, 1)
	require.Equal(t, "04.04.01.01.00001.001", ids[0])
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsPromoted)
	assert.Equal(t, 0, result.RowsFailed)
	assert.Equal(t, 1.0, result.SuccessRate())
	require.Len(t, result.Details, 1)
	require.NotNil(t, result.Details[0].AuditLogID)

	master, err := store.Master().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], master.UniqueID)
	assert.Equal(t, *result.Details[0].AuditLogID, master.PromotionAuditLogID)
	assert.Equal(t, "Company 1", master.Payload["company_name"])

	intake, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.Promoted, intake.PromotionStatus)
	require.NotNil(t, intake.PromotionAuditLogID)
	assert.Equal(t, master.PromotionAuditLogID, *intake.PromotionAuditLogID)

	entries := auditFor(t, store, ids[0])
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionPromote, entries[0].Action)
	assert.Equal(t, domain.AuditStatusSuccess, entries[0].Status)
	assert.Equal(t, result.BatchID, entries[0].BatchID)
	assert.NotNil(t, entries[0].BeforeSnapshot)
	assert.Equal(t, master.Payload, entries[0].AfterSnapshot)
}

func TestPromoteIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedPassed(t, store, 3)
	engine := NewPromotionEngine(store, DefaultConfig())

	first, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, first.RowsPromoted)

	second, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RowsPromoted)
	assert.Equal(t, 0, second.RowsFailed)
	assert.Empty(t, second.Details)
	assert.Equal(t, 0.0, second.SuccessRate())
}

func TestPromotePartialBatchContinuesAfterFailure(t *testing.T) {
	store := newFaultyStore(memory.NewStore())
	ids := seedPassed(t, store, 5)
	store.f.insertErr[ids[2]] = &domain.StoreUnavailableError{Op: "insert master record", Err: errors.New("connection reset by peer")}
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)

	assert.Equal(t, 4, result.RowsPromoted)
	assert.Equal(t, 1, result.RowsFailed)
	assert.InDelta(t, 0.8, result.SuccessRate(), 1e-9)

	require.Len(t, result.Details, 5)
	for i, detail := range result.Details {
		assert.Equal(t, ids[i], detail.UniqueID, "details follow FIFO order")
	}
	assert.Equal(t, StatusFailed, result.Details[2].Status)
	assert.Equal(t, ErrorTypeStoreUnavailable, result.Details[2].ErrorType)
	assert.Equal(t, StatusPromoted, result.Details[3].Status)
	assert.Equal(t, StatusPromoted, result.Details[4].Status)

	failedRecord, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.NotPromoted, failedRecord.PromotionStatus)
	exists, err := store.Master().Exists(context.Background(), domain.EntityKindCompany, ids[2])
	require.NoError(t, err)
	assert.False(t, exists)

	entries := auditFor(t, store, ids[2])
	require.Len(t, entries, 1, "rolled back promote entry must not survive")
	assert.Equal(t, domain.AuditActionPromoteFailed, entries[0].Action)
	assert.Equal(t, domain.AuditStatusFailed, entries[0].Status)
	require.NotNil(t, entries[0].ErrorDetail)
	assert.Contains(t, *entries[0].ErrorDetail, "connection reset")
}

func TestPromoteSkipsRecordFlippedMidBatch(t *testing.T) {
	store := newFaultyStore(memory.NewStore())
	ids := seedPassed(t, store, 3)
	store.f.beforeTx = func(n int) {
		if n == 2 {
			err := store.Intake().SaveValidation(context.Background(), domain.EntityKindCompany, ids[1], domain.ValidationResult{
				Status:   domain.ValidationFailed,
				Failures: []domain.ValidationFailure{{Field: "company_name", ErrorType: "missing_required_field"}},
			})
			require.NoError(t, err)
		}
	}
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowsPromoted)
	assert.Equal(t, 1, result.RowsFailed)
	assert.Equal(t, ErrorTypeConflict, result.Details[1].ErrorType)

	flipped, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.NotPromoted, flipped.PromotionStatus)
	assert.Equal(t, domain.ValidationFailed, flipped.ValidationStatus)

	exists, err := store.Master().Exists(context.Background(), domain.EntityKindCompany, ids[1])
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPromoteExistingMasterIsConflict(t *testing.T) {
	store := memory.NewStore()
	ids := seedPassed(t, store, 1)
	_, err := store.Master().Insert(context.Background(), domain.MasterRecord{
		UniqueID: ids[0], Kind: domain.EntityKindCompany, Payload: domain.Payload{"company_name": "Legacy"}, PromotionAuditLogID: 99,
	})
	require.NoError(t, err)
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsFailed)
	assert.Equal(t, ErrorTypeConflict, result.Details[0].ErrorType)

	master, err := store.Master().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Legacy", master.Payload["company_name"])
}

func TestPromoteAbortsWhenFailureCannotBeAudited(t *testing.T) {
	store := newFaultyStore(memory.NewStore())
	ids := seedPassed(t, store, 4)
	store.f.insertErr[ids[1]] = &domain.StoreUnavailableError{Op: "insert master record", Err: errors.New("down")}
	store.f.auditErr[domain.AuditActionPromoteFailed] = &domain.StoreUnavailableError{Op: "append audit entry", Err: errors.New("down")}
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchAborted)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.Equal(t, 1, result.RowsPromoted)
	assert.Equal(t, 1, result.RowsFailed)
	require.Len(t, result.Details, 2, "records after the abort are not attempted")

	untouched, err := store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.NotPromoted, untouched.PromotionStatus)
}

func TestPromoteRecordTimeout(t *testing.T) {
	store := newFaultyStore(memory.NewStore())
	ids := seedPassed(t, store, 2)
	store.f.blockInsert[ids[0]] = true
	cfg := DefaultConfig()
	cfg.RecordTimeout = 20 * time.Millisecond
	engine := NewPromotionEngine(store, cfg)

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)

	assert.Equal(t, ErrorTypeTimeout, result.Details[0].ErrorType)
	assert.Equal(t, StatusPromoted, result.Details[1].Status)

	entries := auditFor(t, store, ids[0])
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionPromoteFailed, entries[0].Action)
}

func TestPromoteStopsOnParentCancellation(t *testing.T) {
	store := newFaultyStore(memory.NewStore())
	seedPassed(t, store, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.f.beforeTx = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(ctx, domain.EntityKindCompany, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.RowsPromoted)
	assert.Equal(t, 1, result.RowsFailed)
	assert.Len(t, result.Details, 2)
}

func TestPromoteRespectsBatchSize(t *testing.T) {
	store := memory.NewStore()
	ids := seedPassed(t, store, 5)
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 2
	engine := NewPromotionEngine(store, cfg)

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 50)
	require.NoError(t, err)
	require.Len(t, result.Details, 2)
	assert.Equal(t, ids[0], result.Details[0].UniqueID)
	assert.Equal(t, ids[1], result.Details[1].UniqueID)
}

func TestPromoteIgnoresFailedAndPendingRecords(t *testing.T) {
	store := memory.NewStore()
	for i, status := range []domain.ValidationStatus{domain.ValidationFailed, domain.ValidationPending} {
		record := domain.NewIntakeRecord(domain.EntityKindCompany, companyID(i+1), domain.Payload{}, nil)
		record.ValidationStatus = status
		_, err := store.Intake().Create(context.Background(), record)
		require.NoError(t, err)
	}
	engine := NewPromotionEngine(store, DefaultConfig())

	result, err := engine.Promote(context.Background(), domain.EntityKindCompany, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Details)
}

func TestConfigBatchSize(t *testing.T) {
	cfg := Config{DefaultBatchSize: 25, MaxBatchSize: 100}
	assert.Equal(t, 25, cfg.BatchSize(0))
	assert.Equal(t, 25, cfg.BatchSize(-3))
	assert.Equal(t, 60, cfg.BatchSize(60))
	assert.Equal(t, 100, cfg.BatchSize(500))
}
