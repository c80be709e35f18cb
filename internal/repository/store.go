package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/outreach-core/internal/db"
	"github.com/rpattn/outreach-core/internal/domain"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tableSet struct {
	intake   string
	master   string
	audit    string
	sequence string
}

var tablesByKind = map[domain.EntityKind]tableSet{
	domain.EntityKindCompany: {
		intake:   "company_intake",
		master:   "company_master",
		audit:    "company_audit_log",
		sequence: "company_intake_seq",
	},
	domain.EntityKindPeople: {
		intake:   "people_intake",
		master:   "people_master",
		audit:    "people_audit_log",
		sequence: "people_intake_seq",
	},
}

func tablesFor(kind domain.EntityKind) (tableSet, error) {
	tables, ok := tablesByKind[kind]
	if !ok {
		return tableSet{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	return tables, nil
}

// postgresStore implements Store on top of a pgx pool or an open transaction.
type postgresStore struct {
	conn *db.Connection
	q    querier
	inTx bool
}

// NewPostgresStore creates a Store backed by the connection pool.
func NewPostgresStore(conn *db.Connection) Store {
	return &postgresStore{conn: conn, q: conn.Pool}
}

func (s *postgresStore) Intake() IntakeRepository {
	return &intakeRepository{q: s.q}
}

func (s *postgresStore) Master() MasterRepository {
	return &masterRepository{q: s.q}
}

func (s *postgresStore) Audit() AuditRepository {
	return &auditRepository{q: s.q}
}

func (s *postgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	var fnErr error
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		fnErr = fn(&postgresStore{conn: s.conn, q: tx, inTx: true})
		return fnErr
	})
	if err == nil || fnErr != nil {
		return err
	}
	return classify("run transaction", err)
}

// classify maps driver errors onto the domain taxonomy. Server-side errors keep
// their PgError; everything else from the driver is a transport failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	return &domain.StoreUnavailableError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
