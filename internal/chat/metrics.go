package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_sessions",
		Help: "Number of registered sessions, logged in or not",
	})

	LoggedInUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_logged_in_users",
		Help: "Number of sessions holding a name",
	})

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_logins_total",
		Help: "Login attempts by response code",
	}, []string{"code"})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_total",
		Help: "Broadcast events fanned out by kind",
	}, []string{"kind"})

	DroppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Broadcast events dropped because the queue stayed full",
	}, []string{"kind"})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "Per-recipient writes that failed during fan-out",
	})

	BroadcastPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_broadcast_paused",
		Help: "1 while ordinary chat delivery is paused",
	})

	FanoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_fanout_seconds",
		Help:    "Time to fan one event out to all recipients",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(LoggedInUsers)
	prometheus.MustRegister(LoginsTotal)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(DroppedEvents)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(BroadcastPaused)
	prometheus.MustRegister(FanoutDuration)
}
