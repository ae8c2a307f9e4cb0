package postgres

import (
	"errors"
	"fmt"

	"prepaid-card-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation checks if an error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsTransient reports whether retrying the whole transaction may succeed.
func IsTransient(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// wrapWrite annotates a write error, mapping unique violations to ports.ErrDuplicate.
func wrapWrite(op string, err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
