// Package metrics holds the server's Prometheus collectors. Everything is
// registered on a private registry exposed by Handler.
package metrics

import (
	"context"
	"net/http"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attend"

var Registry = prometheus.NewRegistry()

// AppInfo exposes build information as labels; the value is always 1.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthCheckStatus tracks readiness check results (0=fail, 2=pass).
var HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_status",
		Help:      "Individual health check status (0=fail, 2=pass)",
	},
	[]string{"check"},
)

// Registration engine metrics
var (
	RegistrationNotices = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_notices_total",
			Help:      "Committed attendance changes by notice type",
		},
		[]string{"type"},
	)

	SweepRuns = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_sweep_runs_total",
			Help:      "Total number of waitlist reconciliation sweeps",
		},
	)

	SweepEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_sweep_events_total",
			Help:      "Events examined by waitlist sweeps by result",
		},
		[]string{"result"}, // result: ok, failed
	)

	SweepPromoted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_sweep_promoted_total",
			Help:      "Records promoted by waitlist sweeps",
		},
	)

	PromotionFallbacks = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_fallbacks_total",
			Help:      "Promotions run inline because the job queue rejected them",
		},
	)
)

// Realtime broadcast metrics
var (
	RealtimeClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Connected websocket clients",
		},
	)

	RealtimeDropped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_dropped_clients_total",
			Help:      "Websocket clients disconnected because their send buffer was full",
		},
	)
)

// Init registers runtime collectors and records build information.
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Notices counts engine notices. It satisfies registrations.Notifier.
type Notices struct{}

func (Notices) Notify(_ context.Context, notice registrations.Notice) {
	RegistrationNotices.WithLabelValues(string(notice.Type)).Inc()
}

// ObserveSweep records one reconciliation pass.
func ObserveSweep(res registrations.SweepResult) {
	SweepRuns.Inc()
	SweepEvents.WithLabelValues("ok").Add(float64(res.Events - res.Failed))
	SweepEvents.WithLabelValues("failed").Add(float64(res.Failed))
	SweepPromoted.Add(float64(res.Promoted))
}
