package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgboard_events_appended_total",
			Help: "Events committed to the event log",
		},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_commands_total",
			Help: "Application commands by name and result",
		},
		[]string{"command", "result"}, // ok|validation|not_found|permission_denied|conflict|error
	)

	ProjectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_projection_events_total",
			Help: "Events applied and persisted by a projection",
		},
		[]string{"projection"},
	)

	ProjectionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_projection_failures_total",
			Help: "Projection batches discarded, by stage",
		},
		[]string{"projection", "stage"}, // fetch|apply|persist
	)

	ProjectionPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "msgboard_projection_position",
			Help: "Last notification id persisted by a projection",
		},
		[]string{"projection"},
	)

	RelayPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgboard_relay_published_total",
			Help: "Notifications published to Kafka by the relay",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsAppended,
		Commands,
		ProjectionEvents,
		ProjectionFailures,
		ProjectionPosition,
		RelayPublished,
	)
}
