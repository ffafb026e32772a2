package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// AlertFunc is invoked when a job fails or panics.
type AlertFunc func(ctx context.Context, job *rivertype.JobRow, err error)

// AlertingErrorHandler logs job failures, forwards them for alerting and
// cancels jobs whose error will not change on retry.
type AlertingErrorHandler struct {
	Logger *slog.Logger
	Notify AlertFunc
}

func NewAlertingErrorHandler(logger *slog.Logger, notify AlertFunc) *AlertingErrorHandler {
	return &AlertingErrorHandler{
		Logger: logger,
		Notify: notify,
	}
}

func (h *AlertingErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	permanent := isPermanent(err)
	if h.Logger != nil {
		h.Logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "permanent", permanent, "error", err)
	}
	if h.Notify != nil {
		h.Notify(ctx, job, err)
	}
	if permanent {
		return &river.ErrorHandlerResult{SetCancelled: true}
	}
	return nil
}

func (h *AlertingErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	panicErr := fmt.Errorf("panic: %v", panicVal)
	if h.Logger != nil {
		h.Logger.Error("job panicked", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", panicErr, "trace", trace)
	}
	if h.Notify != nil {
		h.Notify(ctx, job, panicErr)
	}
	return nil
}

// isPermanent reports whether err is a typed registration error other
// than a store outage.
func isPermanent(err error) bool {
	kind := registrations.KindOf(err)
	return kind != "" && !registrations.Retryable(err)
}
