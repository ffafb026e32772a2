package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLError reports a malformed URL in configuration or input.
type URLError struct {
	Field   string
	Message string
	URL     string
}

func (e URLError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// ValidateBaseURL checks that raw is an absolute http(s) URL without a
// query or fragment. An empty value is accepted.
func ValidateBaseURL(raw, field string, requireHTTPS bool) error {
	if raw == "" {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return URLError{Field: field, Message: "invalid URL format", URL: raw}
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return URLError{Field: field, Message: "URL scheme must be http or https", URL: raw}
	case parsed.Host == "":
		return URLError{Field: field, Message: "URL must include a host", URL: raw}
	case requireHTTPS && scheme != "https":
		return URLError{Field: field, Message: "URL must use HTTPS in production", URL: raw}
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return URLError{Field: field, Message: "base URL must not contain a query or fragment", URL: raw}
	}
	return nil
}
