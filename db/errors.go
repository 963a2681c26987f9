package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("useradmin/db: record not found")

	// ErrDuplicateKey is returned on unique constraint violations.
	ErrDuplicateKey = errors.New("useradmin/db: duplicate key")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("useradmin/db: foreign key violation")

	// ErrDeadlock is returned when the database detects a deadlock.
	ErrDeadlock = errors.New("useradmin/db: deadlock detected")

	// ErrTimeout is returned when a statement exceeds its deadline.
	ErrTimeout = errors.New("useradmin/db: query timeout")

	// ErrCheckViolation is returned when a CHECK constraint is violated.
	ErrCheckViolation = errors.New("useradmin/db: check constraint violation")

	// ErrConnectionFailed is returned when the driver cannot reach the server.
	ErrConnectionFailed = errors.New("useradmin/db: connection failed")

	// ErrMisconfigured marks programmer misconfiguration: missing connection
	// parameters, missing table names, unset mapper parts, invalid validation
	// rules. It is never a user-facing failure and is never recovered locally.
	ErrMisconfigured = errors.New("useradmin/db: misconfigured")
)

// ─────────────────────────────────────────────────────────────────────────────
// Error helpers — use errors.Is() for type-safe checks
// ─────────────────────────────────────────────────────────────────────────────

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool        { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool { return errors.Is(err, ErrForeignKeyViolation) }
func IsDeadlock(err error) bool            { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }
func IsCheckViolation(err error) bool      { return errors.Is(err, ErrCheckViolation) }
func IsConnectionFailed(err error) bool    { return errors.Is(err, ErrConnectionFailed) }
func IsMisconfigured(err error) bool       { return errors.Is(err, ErrMisconfigured) }

// Misconfigured builds an ErrMisconfigured error with a formatted hint.
func Misconfigured(format string, args ...any) error {
	return &DBError{Sentinel: ErrMisconfigured, Message: fmt.Sprintf(format, args...)}
}

// ─────────────────────────────────────────────────────────────────────────────
// DBError — rich error type preserving original driver error
// ─────────────────────────────────────────────────────────────────────────────

// DBError wraps a sentinel error with the original driver error so callers can
// either use errors.Is(err, ErrDuplicateKey) for simple checks or inspect the
// raw driver error for additional context.
type DBError struct {
	// Sentinel is one of the package-level Err* variables.
	Sentinel error
	// Cause is the original driver error; nil for configuration errors.
	Cause error
	// Message is an optional human-readable hint.
	Message string
}

func (e *DBError) Error() string {
	switch {
	case e.Cause == nil && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Sentinel, e.Message)
	case e.Cause == nil:
		return e.Sentinel.Error()
	case e.Message != "":
		return fmt.Sprintf("%s: %s (cause: %v)", e.Sentinel, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (cause: %v)", e.Sentinel, e.Cause)
}

func (e *DBError) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *DBError) Unwrap() error        { return e.Cause }

// ─────────────────────────────────────────────────────────────────────────────
// ErrorMapper interface — pluggable per driver
// ─────────────────────────────────────────────────────────────────────────────

// ErrorMapper translates raw driver errors into the package's sentinel errors.
// A mapper returns err unchanged when it does not recognise it.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc is a convenience adapter from a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// DefaultErrorMapper handles the driver-independent cases: sql.ErrNoRows and
// context expiry.
func DefaultErrorMapper() ErrorMapper {
	return ErrorMapperFunc(defaultMap)
}

func defaultMap(err error) error {
	if err == nil {
		return nil
	}

	// Already mapped — do not double-wrap
	var dbe *DBError
	if errors.As(err, &dbe) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &DBError{Sentinel: ErrNotFound, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DBError{Sentinel: ErrTimeout, Cause: err}
	}

	return err
}

// ChainMapper returns an ErrorMapper that tries each mapper in order,
// returning the first remapped error.
func ChainMapper(mappers ...ErrorMapper) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if err == nil {
			return nil
		}
		for _, m := range mappers {
			if mapped := m.Map(err); mapped != err {
				return mapped
			}
		}
		return err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL mapping (lib/pq and pgx)
// ─────────────────────────────────────────────────────────────────────────────

func mapPQError(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return err
	}
	return mapByPGCode(string(pe.Code), err)
}

func mapPGXError(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return mapByPGCode(pe.Code, err)
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}

// PostgreSQL SQLSTATE codes: https://www.postgresql.org/docs/current/errcodes-appendix.html
func mapByPGCode(code string, cause error) error {
	switch code {
	case pgerrcode.UniqueViolation:
		return &DBError{Sentinel: ErrDuplicateKey, Cause: cause}
	case pgerrcode.ForeignKeyViolation:
		return &DBError{Sentinel: ErrForeignKeyViolation, Cause: cause}
	case pgerrcode.CheckViolation:
		return &DBError{Sentinel: ErrCheckViolation, Cause: cause}
	case pgerrcode.DeadlockDetected:
		return &DBError{Sentinel: ErrDeadlock, Cause: cause}
	case pgerrcode.QueryCanceled:
		return &DBError{Sentinel: ErrTimeout, Cause: cause}
	}
	if pgerrcode.IsConnectionException(code) {
		return &DBError{Sentinel: ErrConnectionFailed, Cause: cause}
	}
	return cause
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL mapping
// ─────────────────────────────────────────────────────────────────────────────

func mapMySQLError(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		var oe *net.OpError
		if errors.As(err, &oe) || errors.Is(err, mysql.ErrInvalidConn) {
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		return err
	}
	switch me.Number {
	case 1062: // ER_DUP_ENTRY
		return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
	case 1452, 1216, 1217: // ER_NO_REFERENCED_ROW, ER_ROW_IS_REFERENCED
		return &DBError{Sentinel: ErrForeignKeyViolation, Cause: err}
	case 1213: // ER_LOCK_DEADLOCK
		return &DBError{Sentinel: ErrDeadlock, Cause: err}
	case 3024: // ER_QUERY_TIMEOUT
		return &DBError{Sentinel: ErrTimeout, Cause: err}
	case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
		return &DBError{Sentinel: ErrCheckViolation, Cause: err}
	case 1044, 1045, 1049: // access denied, unknown database
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite mapping
// ─────────────────────────────────────────────────────────────────────────────

func mapSQLite3Error(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
	case sqlite3.ErrConstraintForeignKey:
		return &DBError{Sentinel: ErrForeignKeyViolation, Cause: err}
	case sqlite3.ErrConstraintCheck:
		return &DBError{Sentinel: ErrCheckViolation, Cause: err}
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &DBError{Sentinel: ErrDeadlock, Cause: err}
	case sqlite3.ErrCantOpen:
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}

// mapSQLiteMessage is string-based; modernc.org/sqlite reports codes only
// through its message text.
func mapSQLiteMessage(err error) error {
	s := err.Error()
	switch {
	case strings.Contains(s, "UNIQUE constraint failed"):
		return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
	case strings.Contains(s, "FOREIGN KEY constraint failed"):
		return &DBError{Sentinel: ErrForeignKeyViolation, Cause: err}
	case strings.Contains(s, "CHECK constraint failed"):
		return &DBError{Sentinel: ErrCheckViolation, Cause: err}
	case strings.Contains(s, "database is locked"):
		return &DBError{Sentinel: ErrDeadlock, Cause: err}
	case strings.Contains(s, "unable to open database"):
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}
