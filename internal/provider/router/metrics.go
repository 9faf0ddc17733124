package router

import "github.com/prometheus/client_golang/prometheus"

// DeliveriesTotal counts routed messages by mail system, provider and outcome.
var DeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mailcapture_deliveries_total",
		Help: "Messages routed grouped by mail system, provider and status",
	},
	[]string{"system", "provider", "status"},
)

func init() {
	prometheus.MustRegister(DeliveriesTotal)
}
