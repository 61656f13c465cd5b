package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrkflo_transport_requests_total",
			Help: "Total operation requests by outcome kind (ok, protocol, network)",
		},
		[]string{"kind"},
	)
)
