package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	AccountsRegistered  *prometheus.CounterVec
	Purchases           *prometheus.CounterVec
	PurchasePremium     prometheus.Histogram
	RegistrySubmissions *prometheus.CounterVec
	RegistryRPCDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_server_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policy_server_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		AccountsRegistered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_server_accounts_registered_total",
			Help: "Accounts registered by category",
		}, []string{"category"}),
		Purchases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_server_purchases_total",
			Help: "Purchase attempts by outcome",
		}, []string{"outcome"}),
		PurchasePremium: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policy_server_purchase_premium",
			Help:    "Calculated premium of completed purchases",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}),
		RegistrySubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_server_registry_submissions_total",
			Help: "Registry submissions by kind and resulting status",
		}, []string{"kind", "status"}),
		RegistryRPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policy_server_registry_rpc_duration_seconds",
			Help:    "Registry JSON-RPC latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) IncrementAccountsRegistered(category string) {
	if m == nil {
		return
	}
	m.AccountsRegistered.WithLabelValues(category).Inc()
}

// RecordPurchase counts a purchase attempt; premium is observed for successes only.
func (m *Metrics) RecordPurchase(outcome string, premium float64) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.PurchasePremium.Observe(premium)
	}
}

func (m *Metrics) IncrementRegistrySubmissions(kind, status string) {
	if m == nil {
		return
	}
	m.RegistrySubmissions.WithLabelValues(kind, status).Inc()
}

// ObserveRegistryRPC matches registry.Observer.
func (m *Metrics) ObserveRegistryRPC(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegistryRPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Purchase outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
