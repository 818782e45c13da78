package consumer

import "github.com/prometheus/client_golang/prometheus"

// Message outcomes.
const (
	outcomeProcessed   = "processed"
	outcomeDropped     = "dropped"
	outcomeUndecodable = "undecodable"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Events seen by the consumer, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Failed handler attempts, including ones later retried successfully.",
	}, []string{"topic", "event_type"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exercisemate",
		Subsystem: "consumer",
		Name:      "events_skipped_total",
		Help:      "Events acknowledged without a notification, labeled by event type and reason.",
	}, []string{"event_type", "reason"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exercisemate",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix time of the newest processed event per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, handlerErrorCounter, skippedCounter, lastMessageGauge)
}

func recordOutcome(msg Message, outcome string) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcome).Inc()
	if outcome == outcomeProcessed && !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordSkipped(eventType, reason string) {
	skippedCounter.WithLabelValues(eventType, reason).Inc()
}
