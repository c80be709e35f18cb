package pipeline

import (
	"context"
	"sync"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/repository"
)

// faults is shared by a faultyStore and every transaction it opens.
type faults struct {
	mu sync.Mutex
	// beforeTx runs before the n-th transaction (1-based) begins.
	beforeTx func(n int)
	// insertErr fails master inserts for the given unique_id.
	insertErr map[string]error
	// blockInsert makes master inserts for the unique_id wait for cancellation.
	blockInsert map[string]bool
	// auditErr fails audit appends for the given action.
	auditErr map[domain.AuditAction]error
	txCount  int
}

type faultyStore struct {
	repository.Store
	f    *faults
	inTx bool
}

func newFaultyStore(inner repository.Store) *faultyStore {
	return &faultyStore{
		Store: inner,
		f: &faults{
			insertErr:   map[string]error{},
			blockInsert: map[string]bool{},
			auditErr:    map[domain.AuditAction]error{},
		},
	}
}

func (s *faultyStore) Master() repository.MasterRepository {
	return &faultyMaster{MasterRepository: s.Store.Master(), f: s.f}
}

func (s *faultyStore) Audit() repository.AuditRepository {
	return &faultyAudit{AuditRepository: s.Store.Audit(), f: s.f}
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.f.mu.Lock()
	s.f.txCount++
	n := s.f.txCount
	hook := s.f.beforeTx
	s.f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return s.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(&faultyStore{Store: tx, f: s.f, inTx: true})
	})
}

type faultyMaster struct {
	repository.MasterRepository
	f *faults
}

func (m *faultyMaster) Insert(ctx context.Context, record domain.MasterRecord) (domain.MasterRecord, error) {
	if m.f.blockInsert[record.UniqueID] {
		<-ctx.Done()
		return domain.MasterRecord{}, ctx.Err()
	}
	if err := m.f.insertErr[record.UniqueID]; err != nil {
		return domain.MasterRecord{}, err
	}
	return m.MasterRepository.Insert(ctx, record)
}

type faultyAudit struct {
	repository.AuditRepository
	f *faults
}

func (a *faultyAudit) Append(ctx context.Context, kind domain.EntityKind, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if err := a.f.auditErr[entry.Action]; err != nil {
		return domain.AuditEntry{}, err
	}
	return a.AuditRepository.Append(ctx, kind, entry)
}
