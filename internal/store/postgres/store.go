// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

// New returns a store on pool. A positive lockTimeout bounds how long a
// write transaction waits for a row lock before failing.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// mapError turns constraint violations the schema uses to guard business
// rules into domain errors. Anything else is returned unchanged.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "stations_ip_key":
			return domain.Conflict(domain.ReasonDuplicateAddress, "address already registered")
		case "leases_active_station_key":
			return domain.Conflict(domain.ReasonStationOccupied, "station already has an active lease")
		case "leases_active_user_key":
			return domain.Conflict(domain.ReasonUserAlreadyLeased, "user already holds an active lease")
		case "users_username_key":
			return domain.Conflict(domain.ReasonDuplicateUsername, "username already exists")
		}
	case codeForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "leases_user_id_fkey":
			return &domain.NotFoundError{Entity: "user", ID: "referenced"}
		case "leases_station_id_fkey":
			return &domain.NotFoundError{Entity: "station", ID: "referenced"}
		}
	case codeCheckViolation:
		switch pgErr.ConstraintName {
		case "stations_port_check":
			return &domain.ValidationError{Field: "port", Msg: "must be between 1 and 65535"}
		case "stations_state_check":
			return &domain.ValidationError{Field: "state", Msg: "unknown state"}
		}
	}
	return err
}
