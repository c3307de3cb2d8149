package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates a lookup missed.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique or foreign-key constraint breach.
	ErrConflict = errors.New("constraint violation")
	// ErrConcurrent indicates the optimistic updated_at check failed.
	ErrConcurrent = errors.New("concurrent modification")
)

// mapError converts driver errors into the store's sentinel errors so
// callers never match on pg error codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return ErrConflict
		}
	}
	return err
}
