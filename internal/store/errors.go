package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrInvalidEntity = errors.New("invalid task")
)

const (
	checkViolationCode   = "23514"
	notNullViolationCode = "23502"
	stringTooLongCode    = "22001"
)

// mapError translates driver errors into store kinds, keeping the original in the chain.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case checkViolationCode, notNullViolationCode, stringTooLongCode:
			return fmt.Errorf("%s: %w: %s", op, ErrInvalidEntity, pgErr.Message)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
