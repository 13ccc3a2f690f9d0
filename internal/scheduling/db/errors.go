package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"ms-scheduling/internal/scheduling"
)

// Postgres SQLSTATE codes
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return scheduling.ErrNoRows
	}
	if errors.Is(err, scheduling.ErrDuplicate) || errors.Is(err, scheduling.ErrTxConflict) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", scheduling.ErrDuplicate, pqErr.Constraint)
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return fmt.Errorf("%w: %s", scheduling.ErrTxConflict, pqErr.Message)
		}
		return err
	}

	// SQLite drivers only expose their codes through the message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", scheduling.ErrDuplicate, msg)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %s", scheduling.ErrTxConflict, msg)
	}
	return err
}
