package metrics

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonNotFound             = "not_found"
	ReasonGateway              = "gateway"
	ReasonUnknown              = "unknown"
)

const (
	SweepOutcomeCompleted = "completed"
	SweepOutcomeLocked    = "locked"
	SweepOutcomeDisabled  = "disabled"
	SweepOutcomeFailed    = "failed"
)

// PaymentMetrics holds the Prometheus collectors scraped from /metrics.
type PaymentMetrics struct {
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayRetries  *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
	sweepDuration   prometheus.Observer
	sweptRows       *prometheus.CounterVec
	dbOpenConns     prometheus.Gauge
	dbInUseConns    prometheus.Gauge
	dbWaitCount     prometheus.Gauge
	dbPingFailures  prometheus.Counter
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// PaymentsWithConfig returns the singleton payment metrics registry using config labels.
func PaymentsWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

func newPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storefront"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	gatewayRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_gateway_requests_total",
		Help:        "Payment gateway API calls by operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "storefront_gateway_request_duration_seconds",
		Help:        "Payment gateway API latency including retries.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		ConstLabels: constLabels,
	}, []string{"operation"})
	gatewayRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_gateway_retries_total",
		Help:        "Payment gateway API retries by operation.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_reconcile_sweeps_total",
		Help:        "Stale transaction sweeps by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "storefront_reconcile_sweep_duration_seconds",
		Help:        "Stale transaction sweep latency.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	sweptRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_reconcile_transactions_total",
		Help:        "Transactions examined by the sweeper, by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	dbOpenConns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "storefront_db_open_connections",
		Help:        "Open database connections.",
		ConstLabels: constLabels,
	})
	dbInUseConns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "storefront_db_in_use_connections",
		Help:        "Database connections currently in use.",
		ConstLabels: constLabels,
	})
	dbWaitCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "storefront_db_wait_count",
		Help:        "Total number of connections waited for.",
		ConstLabels: constLabels,
	})
	dbPingFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "storefront_db_ping_failures_total",
		Help:        "Failed database health pings.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		gatewayRequests,
		gatewayDuration,
		gatewayRetries,
		sweeps,
		sweepDuration,
		sweptRows,
		dbOpenConns,
		dbInUseConns,
		dbWaitCount,
		dbPingFailures,
	)

	return &PaymentMetrics{
		gatewayRequests: gatewayRequests,
		gatewayDuration: gatewayDuration,
		gatewayRetries:  gatewayRetries,
		sweeps:          sweeps,
		sweepDuration:   sweepDuration,
		sweptRows:       sweptRows,
		dbOpenConns:     dbOpenConns,
		dbInUseConns:    dbInUseConns,
		dbWaitCount:     dbWaitCount,
		dbPingFailures:  dbPingFailures,
	}
}

// ObserveGatewayCall records one logical gateway call.
func (m *PaymentMetrics) ObserveGatewayCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ClassifyReason(err)
	}
	m.gatewayRequests.WithLabelValues(operation, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *PaymentMetrics) IncGatewayRetry(operation string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(operation).Inc()
}

func (m *PaymentMetrics) ObserveSweep(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.sweepDuration.Observe(duration.Seconds())
	}
}

func (m *PaymentMetrics) IncSweptTransaction(result string) {
	if m == nil {
		return
	}
	m.sweptRows.WithLabelValues(result).Inc()
}

// SetDBStats mirrors the pool statistics into gauges.
func (m *PaymentMetrics) SetDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.dbOpenConns.Set(float64(stats.OpenConnections))
	m.dbInUseConns.Set(float64(stats.InUse))
	m.dbWaitCount.Set(float64(stats.WaitCount))
}

func (m *PaymentMetrics) IncDBPingFailure() {
	if m == nil {
		return
	}
	m.dbPingFailures.Inc()
}

// gatewayClassifier is satisfied by gateway errors without importing the
// payment packages here.
type gatewayClassifier interface {
	GatewayStatus() int
}

// ClassifyReason maps errors to low-cardinality reasons.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReasonNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	var gw gatewayClassifier
	if errors.As(err, &gw) {
		return ReasonGateway
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
