package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics
var (
	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
)

// PoolStats reports pgxpool statistics at scrape time.
type PoolStats struct {
	pool *pgxpool.Pool

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	max      *prometheus.Desc
}

// RegisterPool exposes pool statistics on the registry.
func RegisterPool(pool *pgxpool.Pool) error {
	return Registry.Register(newPoolStats(pool))
}

func newPoolStats(pool *pgxpool.Pool) *PoolStats {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, nil, nil)
	}
	return &PoolStats{
		pool:     pool,
		total:    desc("connections_open", "Total number of open database connections"),
		acquired: desc("connections_in_use", "Number of database connections currently in use (acquired)"),
		idle:     desc("connections_idle", "Number of idle database connections"),
		max:      desc("connections_max_open", "Maximum number of open database connections allowed"),
	}
}

func (p *PoolStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.acquired
	ch <- p.idle
	ch <- p.max
}

func (p *PoolStats) Collect(ch chan<- prometheus.Metric) {
	if p.pool == nil {
		return
	}
	stat := p.pool.Stat()
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(p.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(p.max, prometheus.GaugeValue, float64(stat.MaxConns()))
}

// RecordQuery records metrics for a database operation. Domain errors
// such as not-found or duplicate are outcomes, not database errors.
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery("with_event", start, err) }()
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}

	errorType := "query_error"
	switch {
	case errors.Is(err, context.Canceled):
		errorType = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		errorType = "timeout"
	case errors.Is(err, registrations.ErrStoreUnavailable):
		errorType = "unavailable"
	case registrations.KindOf(err) != "":
		return
	}
	DBErrors.WithLabelValues(operation, errorType).Inc()
}
