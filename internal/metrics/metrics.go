package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sigchat_messages_accepted_total",
		Help: "Messages that passed the full verification pipeline and were persisted.",
	})

	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sigchat_messages_rejected_total",
		Help: "Messages rejected by the pipeline, by rejection reason.",
	}, []string{"reason"})

	OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sigchat_open_sessions",
		Help: "Currently authenticated realtime sessions.",
	})
)

func init() {
	prometheus.MustRegister(MessagesAccepted, MessagesRejected, OpenSessions)
}

// Handler exposes the prometheus registry, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
