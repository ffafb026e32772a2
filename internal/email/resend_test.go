package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// resendStub records the send requests it receives. The first limited
// requests are answered with 429.
type resendStub struct {
	mu       sync.Mutex
	requests []resend.SendEmailRequest
	auth     []string
	limited  int
}

func (s *resendStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req resend.SendEmailRequest
	if r.Method != http.MethodPost || r.URL.Path != "/emails" || json.NewDecoder(r.Body).Decode(&req) != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	limited := s.limited > 0
	if limited {
		s.limited--
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if limited {
		for _, h := range []string{"X-RateLimit-Limit", "ratelimit-limit"} {
			w.Header().Set(h, "2")
		}
		for _, h := range []string{"X-RateLimit-Remaining", "ratelimit-remaining"} {
			w.Header().Set(h, "0")
		}
		for _, h := range []string{"X-RateLimit-Reset", "ratelimit-reset", "Retry-After"} {
			w.Header().Set(h, "30")
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": 429, "name": "rate_limit_exceeded", "message": "Too many requests"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"id": "email-1"})
}

func (s *resendStub) sent() []resend.SendEmailRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]resend.SendEmailRequest(nil), s.requests...)
}

func newResendMailer(t *testing.T, stub *resendStub) *Mailer {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	svc := newTestService(t, config.EmailConfig{Enabled: true, From: "events@attend.example.org", ResendAPIKey: "re_test"})
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	svc.resendClient.BaseURL = base
	return newTestMailer(svc)
}

func TestDeliverPromotionThroughResend(t *testing.T) {
	stub := &resendStub{}
	mailer := newResendMailer(t, stub)

	err := mailer.Deliver(context.Background(), registrations.Notice{Type: registrations.NoticePromoted, EventID: "e1", RecordID: "r1"})
	require.NoError(t, err)

	sent := stub.sent()
	require.Len(t, sent, 1)
	req := sent[0]
	require.Equal(t, "events@attend.example.org", req.From)
	require.Equal(t, []string{"ada@example.org"}, req.To)
	require.Equal(t, "A seat opened up: Meetup", req.Subject)
	require.Contains(t, req.Html, "TKT-00000001")
	require.Contains(t, req.Html, "https://events.example.org/api/v1/attendees/r1/ticket.png")
	require.ElementsMatch(t, []resend.Tag{{Name: "kind", Value: "promoted"}, {Name: "event_id", Value: "e1"}}, req.Tags)
	require.Equal(t, "Bearer re_test", stub.auth[0])
}

func TestDeliverReportsRateLimit(t *testing.T) {
	stub := &resendStub{limited: 1}
	mailer := newResendMailer(t, stub)

	err := mailer.Deliver(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed, EventID: "e1", RecordID: "r1"})
	var limited *RateLimitError
	require.ErrorAs(t, err, &limited)
	require.Positive(t, limited.RetryAfter)
}

func TestDeliverHonoursCancelledContext(t *testing.T) {
	stub := &resendStub{}
	mailer := newResendMailer(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mailer.Deliver(ctx, registrations.Notice{Type: registrations.NoticeCancelled, EventID: "e1", RecordID: "r1"})
	require.Error(t, err)
	require.Empty(t, stub.sent())
}

func TestQueueRetriesAfterRateLimit(t *testing.T) {
	stub := &resendStub{limited: 1}
	q := NewQueue(newResendMailer(t, stub), 4, zerolog.Nop())
	q.maxPause = 5 * time.Millisecond
	go q.Run(context.Background())

	q.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeWaitlisted, EventID: "e1", RecordID: "r1"})
	q.Close()

	sent := stub.sent()
	require.Len(t, sent, 2, "the refused notice is sent again once")
	require.Equal(t, "You're on the waitlist: Meetup", sent[1].Subject)
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 30*time.Second, retryAfter("30"))
	require.Equal(t, defaultRetryAfter, retryAfter(""))
	require.Equal(t, defaultRetryAfter, retryAfter("soon"))
}
