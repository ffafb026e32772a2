package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()
)

// Line strips all markup from a single-line field such as an event title
// or location and collapses runs of whitespace.
func Line(input string) string {
	clean := html.UnescapeString(strictPolicy.Sanitize(input))
	return strings.Join(strings.Fields(clean), " ")
}

// Description keeps basic formatting tags in free text and drops anything
// executable.
func Description(input string) string {
	return strings.TrimSpace(ugcPolicy.Sanitize(input))
}

// Optional applies fn to a non-nil value.
func Optional(value *string, fn func(string) string) *string {
	if value == nil {
		return nil
	}
	out := fn(*value)
	return &out
}
