package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all appliance metrics.
type Registry struct {
	// DNS metrics
	DNSQueries          *prometheus.CounterVec
	DNSBlocked          prometheus.Counter
	DNSDecisionErrors   prometheus.Counter
	DNSUpstreamErrors   prometheus.Counter
	DNSListenerRestarts prometheus.Counter

	// Provider record reconciliation
	DDNSOperations *prometheus.CounterVec

	// Certificates
	CertExpiry       prometheus.Gauge
	CertAcquisitions *prometheus.CounterVec

	// Install state
	IPAddresses prometheus.Gauge
	SetupStatus prometheus.Gauge

	// HTTP
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.DNSQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmdl_dns_queries_total",
		Help: "DNS queries received, by question type",
	}, []string{"qtype"})

	r.DNSBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hmdl_dns_blocked_total",
		Help: "DNS queries answered with the policy block code",
	})

	r.DNSDecisionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hmdl_dns_decision_errors_total",
		Help: "Policy evaluations that failed and were allowed",
	})

	r.DNSUpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hmdl_dns_upstream_errors_total",
		Help: "Queries no upstream resolver answered",
	})

	r.DNSListenerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hmdl_dns_listener_restarts_total",
		Help: "Listener rebinds caused by address changes",
	})

	r.DDNSOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmdl_ddns_operations_total",
		Help: "Provider record operations",
	}, []string{"op", "result"})

	r.CertExpiry = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hmdl_cert_expiry_timestamp_seconds",
		Help: "NotAfter of the live certificate",
	})

	r.CertAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmdl_cert_acquisitions_total",
		Help: "Certificate acquisition attempts",
	}, []string{"result"})

	r.IPAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hmdl_ip_addresses",
		Help: "Routable local addresses last published",
	})

	r.SetupStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hmdl_setup_status",
		Help: "0 not set up, 1 in progress, 2 set up",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmdl_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hmdl_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordDDNS records one create or delete call against the provider.
func (r *Registry) RecordDDNS(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.DDNSOperations.WithLabelValues(op, result).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
