package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgClass is how a SQLSTATE is reported and whether the statement may be rerun
type pgClass struct {
	code  ErrorCode
	retry bool
}

// SQLSTATEs the ledger can hit; anything else is a plain DB error
var pgStates = map[string]pgClass{
	"23505": {ErrorCodeDuplicateKey, false},    // unique_violation
	"23503": {ErrorCodeInvalidArgument, false}, // foreign_key_violation
	"23502": {ErrorCodeValidation, false},      // not_null_violation
	"23514": {ErrorCodeValidation, false},      // check_violation
	"22001": {ErrorCodeInvalidArgument, false}, // string_data_right_truncation
	"22P02": {ErrorCodeInvalidArgument, false}, // invalid_text_representation
	"40001": {ErrorCodeDB, true},               // serialization_failure
	"40P01": {ErrorCodeDB, true},               // deadlock_detected
	"55P03": {ErrorCodeDB, true},               // lock_not_available
	"25006": {ErrorCodeUnavailable, false},     // read_only_sql_transaction
	"57P03": {ErrorCodeUnavailable, false},     // cannot_connect_now
}

// driver text seen when the server error never made it into a PgError
var pgTransientText = []string{
	"commit unexpectedly resulted in rollback",
	"deadlock detected",
	"could not serialize access",
	"canceling statement due to statement timeout",
	"canceling statement due to lock timeout",
	"terminating connection due to administrator command",
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrs.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// FromPostgresf wraps err with a code derived from its SQLSTATE, nil stays nil
func FromPostgresf(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	code := ErrorCodeDB
	if pgErr, ok := pgError(err); ok {
		if c, known := pgStates[pgErr.Code]; known {
			code = c.code
		}
	}
	w := Wrap(err, code, fmt.Sprintf(format, a...))
	if pgErr, ok := pgError(err); ok && strings.TrimSpace(pgErr.ColumnName) != "" {
		w = WithField(w, pgErr.ColumnName)
	}
	return w
}

// IsRetryable reports whether a database error is transient contention worth
// one more transaction. Local cancellation is left to the caller
func IsRetryable(err error) bool {
	if err == nil || stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgErr, ok := pgError(err); ok {
		return pgStates[pgErr.Code].retry
	}
	s := strings.ToLower(Root(err).Error())
	for _, t := range pgTransientText {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
