package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairchat_sessions_online",
			Help: "Currently open websocket sessions",
		},
	)

	Logins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_logins_total",
			Help: "Total login events",
		},
	)

	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_mutations_total",
			Help: "Message mutations by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: "ok", "rejected", "failed"
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_broadcasts_total",
			Help: "Server events fanned out to conversation groups",
		},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_store_failures_total",
			Help: "Persistence failures by operation",
		},
		[]string{"op"},
	)
)
