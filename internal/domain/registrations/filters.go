package registrations

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ParseListParams reads status, skip and limit from a query string.
func ParseListParams(values url.Values) (ListFilters, Pagination, error) {
	filters := ListFilters{}
	page := Pagination{Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status := Status(strings.ToLower(raw))
		if !status.Valid() {
			return filters, page, ValidationError{Field: "status", Message: "must be one of registered, checked_in, waitlisted, cancelled"}
		}
		filters.Status = status
	}

	skip, err := parseNonNegative(values, "skip")
	if err != nil {
		return filters, page, err
	}
	page.Offset = skip

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return filters, page, ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
		}
		page.Limit = limit
	}
	return filters, page, nil
}

func parseNonNegative(values url.Values, field string) (int, error) {
	raw := strings.TrimSpace(values.Get(field))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}
