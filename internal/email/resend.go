package email

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/resend/resend-go/v2"
)

// defaultRetryAfter applies when Resend refuses a send without a usable
// reset header.
const defaultRetryAfter = time.Minute

// RateLimitError reports that Resend refused a send until RetryAfter has
// passed.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("email rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// sendViaResend posts one attendee email. Messages are tagged with their
// kind and event so provider-side logs can be filtered per event.
func (s *Service) sendViaResend(ctx context.Context, kind Kind, msg Message, subject, body string) error {
	if s.resendClient == nil {
		return errors.New("resend client not initialized")
	}

	params := &resend.SendEmailRequest{
		From:    s.config.From,
		To:      []string{msg.To},
		Subject: subject,
		Html:    body,
		Tags:    []resend.Tag{{Name: "kind", Value: string(kind)}},
	}
	if msg.EventID != "" {
		params.Tags = append(params.Tags, resend.Tag{Name: "event_id", Value: msg.EventID})
	}

	sent, err := s.resendClient.Emails.SendWithContext(ctx, params)
	if err != nil {
		var limited *resend.RateLimitError
		if errors.As(err, &limited) {
			retry := retryAfter(limited.Reset)
			s.logger.Warn().
				Str("kind", string(kind)).
				Str("event_id", msg.EventID).
				Str("remaining", limited.Remaining).
				Dur("retry_after", retry).
				Msg("resend rate limit exceeded")
			return &RateLimitError{RetryAfter: retry, Err: err}
		}
		return fmt.Errorf("resend: %w", err)
	}

	s.logger.Info().
		Str("email_id", sent.Id).
		Str("kind", string(kind)).
		Str("event_id", msg.EventID).
		Str("record_id", msg.RecordID).
		Msg("attendee email sent")
	return nil
}

// retryAfter reads the reset header, which Resend sends in seconds.
func retryAfter(reset string) time.Duration {
	secs, err := strconv.Atoi(reset)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
