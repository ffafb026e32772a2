package ids

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidRegex   = regexp.MustCompile(`(?i)^[0-9A-HJKMNP-TV-Z]{26}$`)
	ticketRegex = regexp.MustCompile(`^TKT-[0-9A-F]{8}$`)

	ErrInvalidULID       = errors.New("invalid ULID")
	ErrInvalidTicket     = errors.New("invalid ticket number")
	ErrInvalidBaseURL    = errors.New("invalid base URL")
	ErrInvalidEntityPath = errors.New("invalid entity path")
)

// TicketPrefix is prepended to every ticket number handed to attendees.
const TicketPrefix = "TKT-"

// NewULID generates a new ULID string.
func NewULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot recover from an exhausted entropy source.
func MustULID() string {
	id, err := NewULID()
	if err != nil {
		panic(fmt.Sprintf("ids: generate ULID: %v", err))
	}
	return id
}

// IsULID returns true when value is a valid ULID (case-insensitive Crockford Base32).
func IsULID(value string) bool {
	return ulidRegex.MatchString(strings.TrimSpace(value))
}

// ValidateULID validates a ULID string.
func ValidateULID(value string) error {
	if !IsULID(value) {
		return ErrInvalidULID
	}
	return nil
}

// NewTicketNumber returns a ticket number of the form TKT-1A2B3C4D.
func NewTicketNumber() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return TicketPrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// ValidateTicketNumber checks the TKT-XXXXXXXX shape.
func ValidateTicketNumber(value string) error {
	if !ticketRegex.MatchString(value) {
		return ErrInvalidTicket
	}
	return nil
}

// BuildResourceURI creates an absolute URI for a local resource, used for Location headers.
func BuildResourceURI(baseURL, entityPath, id string) (string, error) {
	if err := ValidateULID(id); err != nil {
		return "", err
	}

	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", ErrInvalidBaseURL
	}

	cleanPath := strings.Trim(strings.TrimSpace(entityPath), "/")
	if cleanPath == "" || strings.Contains(cleanPath, "..") {
		return "", ErrInvalidEntityPath
	}

	base := strings.TrimRight(parsed.Scheme+"://"+parsed.Host+parsed.Path, "/")
	return fmt.Sprintf("%s/%s/%s", base, cleanPath, strings.ToUpper(id)), nil
}
