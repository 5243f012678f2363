package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_claimed_total",
		Help: "Jobs this worker won the claim race for.",
	})

	MessagesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_messages_total",
		Help: "Per-recipient dispatch outcomes.",
	}, []string{"channel", "status"})

	JobsReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_reconciled_total",
		Help: "Jobs merged back and archived, by whether staleness forced it.",
	}, []string{"forced"})
)

func init() {
	prometheus.MustRegister(JobsClaimed, MessagesDispatched, JobsReconciled)
}

// Handler serves the registry on the worker's debug address.
func Handler() http.Handler {
	return promhttp.Handler()
}
