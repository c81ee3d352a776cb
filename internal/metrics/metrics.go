package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PushEvents counts push-channel events by wire event name.
	PushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_push_events_total",
			Help: "Total number of push channel events received, by event name.",
		},
		[]string{"event"},
	)

	// ReconnectAttempts counts push-channel reconnect attempts.
	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reconnect_attempts_total",
			Help: "Total number of push channel reconnect attempts.",
		},
	)

	// ActiveRooms tracks the number of subscribed thread rooms.
	ActiveRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_active_rooms",
			Help: "Number of thread rooms the session is subscribed to.",
		},
	)

	// OptimisticOps counts optimistic mutations by operation and outcome.
	OptimisticOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_optimistic_operations_total",
			Help: "Total number of optimistic mutations, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// SnapshotLoads counts full snapshot loads.
	SnapshotLoads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_snapshot_loads_total",
			Help: "Total number of bulk snapshot loads.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PushEvents,
		ReconnectAttempts,
		ActiveRooms,
		OptimisticOps,
		SnapshotLoads,
	)
}
