// Package audit records privileged actions (role changes, check-ins,
// manual promotions, deletions) as structured log lines.
package audit

import (
	"net"
	"net/http"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/rs/zerolog"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one audited action.
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Actor        string            `json:"actor"`
	ActorRole    string            `json:"actor_role,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Status       string            `json:"status"`
	Details      map[string]string `json:"details,omitempty"`
}

type Logger struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	l.write(l.logger, entry)
}

func (l *Logger) write(logger zerolog.Logger, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	logger.Info().Interface("audit", entry).Msg(entry.Action)
}

// LogFromRequest fills the actor from the request principal and the
// address from the connection. It writes through the request logger so the
// entry carries the request id.
func (l *Logger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, details map[string]string) {
	entry := Entry{
		Action:       action,
		Actor:        "anonymous",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    clientIP(r),
		Status:       status,
		Details:      details,
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		entry.Actor = p.UserID
		entry.ActorRole = string(p.Role)
	}
	if l == nil {
		return
	}
	logger := l.logger
	if ctxLogger := zerolog.Ctx(r.Context()); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = ctxLogger.With().Str("component", "audit").Logger()
	}
	l.write(logger, entry)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
