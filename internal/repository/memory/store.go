// Package memory provides an in-process Store used by tests and by the
// "memory" storage driver for local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/repository"
)

type state struct {
	intake map[domain.EntityKind]map[string]domain.IntakeRecord
	master map[domain.EntityKind]map[string]domain.MasterRecord
	audit  map[domain.EntityKind][]domain.AuditEntry
	seq    map[domain.EntityKind]int64
	logIDs map[domain.EntityKind]int64
}

func newState() *state {
	st := &state{
		intake: map[domain.EntityKind]map[string]domain.IntakeRecord{},
		master: map[domain.EntityKind]map[string]domain.MasterRecord{},
		audit:  map[domain.EntityKind][]domain.AuditEntry{},
		seq:    map[domain.EntityKind]int64{},
		logIDs: map[domain.EntityKind]int64{},
	}
	for _, kind := range domain.EntityKinds {
		st.intake[kind] = map[string]domain.IntakeRecord{}
		st.master[kind] = map[string]domain.MasterRecord{}
	}
	return st
}

// clone copies the maps; records are replaced on write, never mutated in place.
func (st *state) clone() *state {
	next := newState()
	for kind, records := range st.intake {
		m := make(map[string]domain.IntakeRecord, len(records))
		for id, r := range records {
			m[id] = r
		}
		next.intake[kind] = m
	}
	for kind, records := range st.master {
		m := make(map[string]domain.MasterRecord, len(records))
		for id, r := range records {
			m[id] = r
		}
		next.master[kind] = m
	}
	for kind, entries := range st.audit {
		next.audit[kind] = append([]domain.AuditEntry(nil), entries...)
	}
	for kind, v := range st.seq {
		next.seq[kind] = v
	}
	// Shared so log ids are not reused after a rollback, like a Postgres sequence.
	next.logIDs = st.logIDs
	return next
}

type database struct {
	mu    sync.Mutex
	state *state
}

// Store is a mutex-guarded Store. Transactions run serially against a private
// copy of the data which replaces the shared copy on success.
type Store struct {
	db *database
	tx *state
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{db: &database{state: newState()}}
}

func (s *Store) Intake() repository.IntakeRepository { return &intakeRepository{s: s} }

func (s *Store) Master() repository.MasterRepository { return &masterRepository{s: s} }

func (s *Store) Audit() repository.AuditRepository { return &auditRepository{s: s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	working := s.db.state.clone()
	if err := fn(&Store{db: s.db, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.db.state = working
	return nil
}

func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.state)
}

func knownKind(kind domain.EntityKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	return nil
}

type intakeRepository struct {
	s *Store
}

func (r *intakeRepository) Create(ctx context.Context, record domain.IntakeRecord) (domain.IntakeRecord, error) {
	if err := knownKind(record.Kind); err != nil {
		return domain.IntakeRecord{}, err
	}
	var created domain.IntakeRecord
	err := r.s.run(ctx, func(st *state) error {
		if _, exists := st.intake[record.Kind][record.UniqueID]; exists {
			return &domain.ConflictError{UniqueID: record.UniqueID, Reason: "intake record already exists"}
		}
		created = record.Clone()
		now := time.Now()
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		created.UpdatedAt = created.CreatedAt
		if created.ValidationStatus == "" {
			created.ValidationStatus = domain.ValidationPending
		}
		created.PromotionStatus = domain.NotPromoted
		created.PromotionAuditLogID = nil
		created.PromotedAt = nil
		if created.Payload == nil {
			created.Payload = domain.Payload{}
		}
		if created.ValidationFailures == nil {
			created.ValidationFailures = []domain.ValidationFailure{}
		}
		st.intake[record.Kind][record.UniqueID] = created
		return nil
	})
	if err != nil {
		return domain.IntakeRecord{}, err
	}
	return created.Clone(), nil
}

func (r *intakeRepository) NextSequence(ctx context.Context, kind domain.EntityKind) (int64, error) {
	if err := knownKind(kind); err != nil {
		return 0, err
	}
	var next int64
	err := r.s.run(ctx, func(st *state) error {
		st.seq[kind]++
		next = st.seq[kind]
		return nil
	})
	return next, err
}

func (r *intakeRepository) GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error) {
	if err := knownKind(kind); err != nil {
		return domain.IntakeRecord{}, err
	}
	var found domain.IntakeRecord
	err := r.s.run(ctx, func(st *state) error {
		record, ok := st.intake[kind][uniqueID]
		if !ok {
			return &domain.NotFoundError{Kind: kind, UniqueID: uniqueID}
		}
		found = record.Clone()
		return nil
	})
	return found, err
}

// GetForUpdate needs no extra locking: transactions already hold the store mutex.
func (r *intakeRepository) GetForUpdate(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.IntakeRecord, error) {
	return r.GetByUniqueID(ctx, kind, uniqueID)
}

func (r *intakeRepository) GetByUniqueIDs(ctx context.Context, kind domain.EntityKind, uniqueIDs []string) ([]domain.IntakeRecord, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	records := []domain.IntakeRecord{}
	err := r.s.run(ctx, func(st *state) error {
		seen := make(map[string]bool, len(uniqueIDs))
		for _, id := range uniqueIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if record, ok := st.intake[kind][id]; ok {
				records = append(records, record.Clone())
			}
		}
		return nil
	})
	sortFIFO(records)
	return records, err
}

func (r *intakeRepository) GetEligibleForPromotion(ctx context.Context, kind domain.EntityKind, limit int) ([]domain.IntakeRecord, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	return r.selectRecords(ctx, kind, limit, func(record domain.IntakeRecord) bool {
		return record.EligibleForPromotion()
	})
}

func (r *intakeRepository) ListForValidation(ctx context.Context, kind domain.EntityKind, filter repository.ValidationFilter) ([]domain.IntakeRecord, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []domain.ValidationStatus{domain.ValidationPending}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return r.selectRecords(ctx, kind, limit, func(record domain.IntakeRecord) bool {
		if record.PromotionStatus != domain.NotPromoted {
			return false
		}
		if filter.IngestBatchID != nil && (record.IngestBatchID == nil || *record.IngestBatchID != *filter.IngestBatchID) {
			return false
		}
		for _, status := range statuses {
			if record.ValidationStatus == status {
				return true
			}
		}
		return false
	})
}

func (r *intakeRepository) selectRecords(ctx context.Context, kind domain.EntityKind, limit int, keep func(domain.IntakeRecord) bool) ([]domain.IntakeRecord, error) {
	records := []domain.IntakeRecord{}
	if limit <= 0 {
		return records, nil
	}
	err := r.s.run(ctx, func(st *state) error {
		for _, record := range st.intake[kind] {
			if keep(record) {
				records = append(records, record.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortFIFO(records)
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *intakeRepository) SaveValidation(ctx context.Context, kind domain.EntityKind, uniqueID string, result domain.ValidationResult) error {
	return r.update(ctx, kind, uniqueID, func(record domain.IntakeRecord) (domain.IntakeRecord, error) {
		if record.PromotionStatus == domain.Promoted {
			return record, &domain.ConflictError{UniqueID: uniqueID, Reason: "record already promoted"}
		}
		return record.WithValidation(result, time.Now()), nil
	})
}

func (r *intakeRepository) SavePayload(ctx context.Context, kind domain.EntityKind, uniqueID string, payload domain.Payload, result domain.ValidationResult) error {
	return r.update(ctx, kind, uniqueID, func(record domain.IntakeRecord) (domain.IntakeRecord, error) {
		if record.PromotionStatus == domain.Promoted {
			return record, &domain.ConflictError{UniqueID: uniqueID, Reason: "record already promoted"}
		}
		updated := record.WithValidation(result, time.Now())
		updated.Payload = payload.Clone()
		if updated.Payload == nil {
			updated.Payload = domain.Payload{}
		}
		return updated, nil
	})
}

func (r *intakeRepository) MarkPromoted(ctx context.Context, kind domain.EntityKind, uniqueID string, auditLogID int64) error {
	return r.update(ctx, kind, uniqueID, func(record domain.IntakeRecord) (domain.IntakeRecord, error) {
		if !record.EligibleForPromotion() {
			return record, &domain.ConflictError{UniqueID: uniqueID, Reason: "record is not eligible for promotion"}
		}
		now := time.Now()
		updated := record.Clone()
		updated.PromotionStatus = domain.Promoted
		updated.PromotionAuditLogID = &auditLogID
		updated.PromotedAt = &now
		updated.UpdatedAt = now
		return updated, nil
	})
}

func (r *intakeRepository) update(ctx context.Context, kind domain.EntityKind, uniqueID string, fn func(domain.IntakeRecord) (domain.IntakeRecord, error)) error {
	if err := knownKind(kind); err != nil {
		return err
	}
	return r.s.run(ctx, func(st *state) error {
		record, ok := st.intake[kind][uniqueID]
		if !ok {
			return &domain.NotFoundError{Kind: kind, UniqueID: uniqueID}
		}
		updated, err := fn(record)
		if err != nil {
			return err
		}
		st.intake[kind][uniqueID] = updated
		return nil
	})
}

func (r *intakeRepository) Stats(ctx context.Context, kind domain.EntityKind) ([]domain.StatusCount, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	type cell struct {
		validation domain.ValidationStatus
		promotion  domain.PromotionStatus
	}
	counts := map[cell]int64{}
	err := r.s.run(ctx, func(st *state) error {
		for _, record := range st.intake[kind] {
			counts[cell{record.ValidationStatus, record.PromotionStatus}]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.StatusCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, domain.StatusCount{ValidationStatus: c.validation, PromotionStatus: c.promotion, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidationStatus != out[j].ValidationStatus {
			return out[i].ValidationStatus < out[j].ValidationStatus
		}
		return out[i].PromotionStatus < out[j].PromotionStatus
	})
	return out, nil
}

func sortFIFO(records []domain.IntakeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].UniqueID < records[j].UniqueID
	})
}

type masterRepository struct {
	s *Store
}

func (r *masterRepository) Insert(ctx context.Context, record domain.MasterRecord) (domain.MasterRecord, error) {
	if err := knownKind(record.Kind); err != nil {
		return domain.MasterRecord{}, err
	}
	stored := record
	stored.Payload = record.Payload.Clone()
	if stored.Payload == nil {
		stored.Payload = domain.Payload{}
	}
	err := r.s.run(ctx, func(st *state) error {
		if _, exists := st.master[record.Kind][record.UniqueID]; exists {
			return &domain.ConflictError{UniqueID: record.UniqueID, Reason: "master record already exists"}
		}
		st.master[record.Kind][record.UniqueID] = stored
		return nil
	})
	if err != nil {
		return domain.MasterRecord{}, err
	}
	out := stored
	out.Payload = stored.Payload.Clone()
	return out, nil
}

func (r *masterRepository) Exists(ctx context.Context, kind domain.EntityKind, uniqueID string) (bool, error) {
	if err := knownKind(kind); err != nil {
		return false, err
	}
	var exists bool
	err := r.s.run(ctx, func(st *state) error {
		_, exists = st.master[kind][uniqueID]
		return nil
	})
	return exists, err
}

func (r *masterRepository) GetByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string) (domain.MasterRecord, error) {
	if err := knownKind(kind); err != nil {
		return domain.MasterRecord{}, err
	}
	var found domain.MasterRecord
	err := r.s.run(ctx, func(st *state) error {
		record, ok := st.master[kind][uniqueID]
		if !ok {
			return &domain.NotFoundError{Kind: kind, UniqueID: uniqueID}
		}
		found = record
		found.Payload = record.Payload.Clone()
		return nil
	})
	return found, err
}

type auditRepository struct {
	s *Store
}

func (r *auditRepository) Append(ctx context.Context, kind domain.EntityKind, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if err := knownKind(kind); err != nil {
		return domain.AuditEntry{}, err
	}
	stored := cloneEntry(entry)
	err := r.s.run(ctx, func(st *state) error {
		st.logIDs[kind]++
		stored.LogID = st.logIDs[kind]
		stored.CreatedAt = time.Now()
		st.audit[kind] = append(st.audit[kind], stored)
		return nil
	})
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return cloneEntry(stored), nil
}

func (r *auditRepository) ListByUniqueID(ctx context.Context, kind domain.EntityKind, uniqueID string, limit int) ([]domain.AuditEntry, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	entries := []domain.AuditEntry{}
	err := r.s.run(ctx, func(st *state) error {
		log := st.audit[kind]
		for i := len(log) - 1; i >= 0 && len(entries) < limit; i-- {
			if log[i].UniqueID == uniqueID {
				entries = append(entries, cloneEntry(log[i]))
			}
		}
		return nil
	})
	return entries, err
}

func (r *auditRepository) List(ctx context.Context, kind domain.EntityKind, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if err := knownKind(kind); err != nil {
		return nil, err
	}
	filter = filter.Normalize()
	entries := []domain.AuditEntry{}
	err := r.s.run(ctx, func(st *state) error {
		skipped := 0
		log := st.audit[kind]
		for i := len(log) - 1; i >= 0 && len(entries) < filter.Limit; i-- {
			if !filter.Matches(log[i]) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			entries = append(entries, cloneEntry(log[i]))
		}
		return nil
	})
	return entries, err
}

func cloneEntry(e domain.AuditEntry) domain.AuditEntry {
	c := e
	if e.BeforeSnapshot != nil {
		c.BeforeSnapshot = e.BeforeSnapshot.Clone()
	}
	if e.AfterSnapshot != nil {
		c.AfterSnapshot = e.AfterSnapshot.Clone()
	}
	if e.ErrorDetail != nil {
		detail := *e.ErrorDetail
		c.ErrorDetail = &detail
	}
	return c
}
