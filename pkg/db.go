package pkg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolationError reports whether err, or anything it wraps, is a postgres unique violation.
func IsUniqueViolationError(err error) bool {
	return pgErrorCode(err) == pgCodeUniqueViolation
}

func IsForeignKeyViolationError(err error) bool {
	return pgErrorCode(err) == pgCodeForeignKeyViolation
}
