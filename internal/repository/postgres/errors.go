package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// mapError translates driver failures into the application error taxonomy.
// AppErrors pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return errors.Conflict("", "duplicate record", err)
		case pqForeignKeyViolation, pqCheckViolation:
			return errors.BadRequest("constraint violated", err)
		case pqSerializationFailure, pqDeadlockDetected:
			return errors.Transient("transaction conflict", fmt.Errorf("%w: %v", repository.ErrSerializationFailure, err))
		}
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" {
			return errors.Transient("database unavailable", err)
		}
		return errors.Internal(err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Transient("database timeout", err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return errors.Transient("database unavailable", err)
	}
	return errors.Internal(err)
}

// notFound maps sql.ErrNoRows onto NotFound and everything else through mapError.
func notFound(resource string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, err)
	}
	return mapError(err)
}

// isUniqueViolation reports whether err is a postgres unique violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}
