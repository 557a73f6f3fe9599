package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ganttline/internal/domain"
)

// UnitOfWork runs fn inside one transaction: every write fn makes is
// committed together or not at all.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLUnitOfWork implements UnitOfWork on database/sql.
type SQLUnitOfWork struct {
	DB *sql.DB
}

func NewUnitOfWork(db *sql.DB) SQLUnitOfWork {
	return SQLUnitOfWork{DB: db}
}

func (u SQLUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	if u.DB == nil {
		return fmt.Errorf("%w: no database handle", domain.ErrStorageUnavailable)
	}
	tx, err := u.DB.BeginTx(ctx, nil)
	if err != nil {
		// a begin that fails for any reason but contention means the
		// handle is closed or the file is gone
		if c := Classify(err); errors.Is(c, domain.ErrConflict) {
			return fmt.Errorf("beginning transaction: %w", c)
		}
		return fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorageUnavailable, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return Classify(err)
	}

	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Classify tags storage errors with the domain taxonomy: lock contention
// becomes ErrConflict and a closed or unreachable database becomes
// ErrStorageUnavailable. Errors that already carry a domain sentinel and
// unrecognized errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrCyclicMove,
		domain.ErrConflict, domain.ErrStorageUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return err
}
