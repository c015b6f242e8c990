package vault

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultcreds_requests_total",
		Help: "Total number of requests issued against the secret store.",
	}, []string{"code", "method"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultcreds_request_duration_seconds",
		Help:    "Secret store request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	renewalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultcreds_token_renewals_total",
		Help: "Total number of token renewal attempts.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, renewalsTotal)
}

// instrumentTransport wraps a RoundTripper with request count and duration
// metrics.
func instrumentTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(requestsTotal,
		promhttp.InstrumentRoundTripperDuration(requestDuration, base))
}
