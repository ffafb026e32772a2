package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// uniqueViolation reports the violated constraint name for a 23505 error.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// transient reports whether err is a connection, resource or concurrency
// failure the caller may retry unchanged. Errors that never reached the
// server (dial failures, cancelled contexts) are transient.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return true
	}
	if len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "40", "53", "57":
		return true
	}
	return false
}

// registrationErr maps a driver error onto the registration error kinds.
func registrationErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if registrations.KindOf(err) != "" {
		return err
	}
	if transient(err) {
		return registrations.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// escapeILIKEPattern escapes the ILIKE wildcards so user input matches
// literally. Postgres uses backslash as the default escape character.
func escapeILIKEPattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// nullString maps the empty string to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
