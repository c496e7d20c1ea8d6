package httpx

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "harvester_http_attempts_total", Help: "HTTP request attempts per provider"},
		[]string{"provider", "outcome"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "harvester_http_retries_total", Help: "HTTP retries per provider"},
		[]string{"provider"},
	)
	queueRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "harvester_http_queue_rejects_total", Help: "Requests rejected because the wait queue was full"},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, retriesTotal, queueRejectsTotal)
}
