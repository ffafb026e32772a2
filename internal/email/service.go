package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/config"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// Service renders attendee emails and sends them through Resend.
type Service struct {
	config       config.EmailConfig
	baseURL      string
	templates    *template.Template
	resendClient *resend.Client
	logger       zerolog.Logger
	now          func() time.Time
}

// Message carries what an attendee email can mention.
type Message struct {
	To           string
	Name         string
	EventTitle   string
	EventID      string
	RecordID     string
	StartsAt     time.Time
	Location     string
	TicketNumber string
	Position     int
}

type templateData struct {
	Message
	TicketURL   string
	EventURL    string
	CurrentYear int
}

// Kind selects the template and subject line.
type Kind string

const (
	KindConfirmed  Kind = "confirmed"
	KindWaitlisted Kind = "waitlisted"
	KindPromoted   Kind = "promoted"
	KindCancelled  Kind = "cancelled"
	KindReminder   Kind = "reminder"
)

var subjects = map[Kind]string{
	KindConfirmed:  "You're registered: %s",
	KindWaitlisted: "You're on the waitlist: %s",
	KindPromoted:   "A seat opened up: %s",
	KindCancelled:  "Registration cancelled: %s",
	KindReminder:   "Reminder: %s starts soon",
}

// NewService parses the embedded templates. A Resend client is created
// only when email is enabled.
func NewService(cfg config.EmailConfig, baseURL string, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	svc := &Service{
		config:    cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: templates,
		logger:    logger.With().Str("component", "email").Logger(),
		now:       time.Now,
	}
	if cfg.Enabled {
		svc.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return svc, nil
}

// Send renders the template for kind and delivers it. When email is
// disabled the message is logged and dropped.
func (s *Service) Send(ctx context.Context, kind Kind, msg Message) error {
	if err := validateEmailAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	format, ok := subjects[kind]
	if !ok {
		return fmt.Errorf("unknown email kind %q", kind)
	}

	body, err := s.render(kind, msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf(format, msg.EventTitle)

	if !s.config.Enabled {
		s.logger.Info().
			Str("to", msg.To).
			Str("kind", string(kind)).
			Str("event_id", msg.EventID).
			Msg("email service disabled, skipping email")
		return nil
	}
	if err := s.sendViaResend(ctx, kind, msg, subject, body); err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

func (s *Service) render(kind Kind, msg Message) (string, error) {
	data := templateData{
		Message:     msg,
		EventURL:    fmt.Sprintf("%s/api/v1/events/%s", s.baseURL, msg.EventID),
		CurrentYear: s.now().Year(),
	}
	if msg.RecordID != "" {
		data.TicketURL = fmt.Sprintf("%s/api/v1/attendees/%s/ticket.png", s.baseURL, msg.RecordID)
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, string(kind), data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", kind, err)
	}
	return buf.String(), nil
}

// validateEmailAddress validates an email address for format and header injection attempts
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}
