package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestEscapeILIKEPattern(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "normal text",
			input:    "Go Meetup",
			expected: "Go Meetup",
		},
		{
			name:     "percent sign",
			input:    "50% off tickets",
			expected: `50\% off tickets`,
		},
		{
			name:     "underscore",
			input:    "early_bird",
			expected: `early\_bird`,
		},
		{
			name:     "backslash",
			input:    `test\path`,
			expected: `test\\path`,
		},
		{
			name:     "SQL injection attempt",
			input:    `%'; DROP TABLE events; --`,
			expected: `\%'; DROP TABLE events; --`,
		},
		{
			name:     "multiple wildcards",
			input:    `%_test_%_`,
			expected: `\%\_test\_\%\_`,
		},
		{
			name:     "mixed escape characters",
			input:    `\%_test`,
			expected: `\\\%\_test`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeILIKEPattern(tt.input)
			if got != tt.expected {
				t.Errorf("escapeILIKEPattern(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRegistrationErr(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
	}{
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, wantRetryable: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, wantRetryable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, wantRetryable: true},
		{name: "cancelled context", err: context.Canceled, wantRetryable: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registrationErr("op", fmt.Errorf("wrapped: %w", tt.err))
			if registrations.Retryable(got) != tt.wantRetryable {
				t.Errorf("Retryable(%v) = %v, want %v", got, !tt.wantRetryable, tt.wantRetryable)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("registrationErr dropped the cause: %v", got)
			}
		})
	}

	typed := registrations.NotFound("get", "event")
	if got := registrationErr("op", typed); got != typed {
		t.Errorf("typed errors must pass through, got %v", got)
	}
	if registrationErr("op", nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestUniqueViolation(t *testing.T) {
	name, ok := uniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "users_email_key"}))
	if !ok || name != "users_email_key" {
		t.Errorf("uniqueViolation = %q, %v", name, ok)
	}
	if _, ok := uniqueViolation(&pgconn.PgError{Code: codeForeignKeyViolation}); ok {
		t.Error("foreign key violation reported as unique")
	}
	if !foreignKeyViolation(&pgconn.PgError{Code: codeForeignKeyViolation}) {
		t.Error("foreign key violation not detected")
	}
}
