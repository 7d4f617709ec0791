package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_active_connections",
			Help: "Currently open websocket connections",
		},
	)

	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_messages_relayed_total",
			Help: "Messages accepted and persisted by the relay",
		},
	)

	LiveDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_live_deliveries_total",
			Help: "Live pushes of a message to an online recipient connection",
		},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_send_failures_total",
			Help: "Rejected sends",
		},
		[]string{"reason"}, // "validation" or "storage"
	)

	CallsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_calls_started_total",
			Help: "Call sessions that reached Ringing",
		},
	)

	CallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_calls_active",
			Help: "Call sessions currently Ringing or Connected",
		},
	)

	CallsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_calls_ended_total",
			Help: "Call sessions torn down",
		},
		[]string{"reason"},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_auth_failures_total",
			Help: "Rejected credentials at login or upgrade",
		},
	)
)
