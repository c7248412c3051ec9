package poller

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watersmart_polls_total",
			Help: "Number of poll runs per portal series.",
		},
		[]string{
			"period",
		},
	)
	pollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watersmart_poll_errors_total",
			Help: "Number of failed poll stages per portal series.",
		},
		[]string{
			"period",
			"stage",
		},
	)
	readingsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watersmart_readings_fetched_total",
			Help: "Number of readings returned by the portal.",
		},
		[]string{
			"period",
		},
	)
	readingsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watersmart_readings_stored_total",
			Help: "Number of new readings stored after dedup.",
		},
		[]string{
			"period",
		},
	)
	lastPollTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watersmart_last_poll_timestamp_seconds",
			Help: "Unix time of the last completed poll run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pollsTotal,
		pollErrorsTotal,
		readingsFetched,
		readingsStored,
		lastPollTimestamp,
	)
}

// serveMetrics exposes the prometheus registry on addr
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
