package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics methods are safe to call on a nil receiver so components can run without them.
type Metrics struct {
	ConnectionsTotal   prometheus.Gauge
	ConnectionsByRoom  *prometheus.GaugeVec
	MessagesReceived   prometheus.Counter
	MessagesSent       prometheus.Counter
	Submissions        *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	Solves             prometheus.Counter
	FirstBloods        prometheus.Counter
	BroadcastEvents    *prometheus.CounterVec
	BroadcastDropped   *prometheus.CounterVec
	KafkaMessages      *prometheus.CounterVec
	RedisOperations    *prometheus.CounterVec
	AuthFailures       prometheus.Counter
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_total",
			Help: "Total number of active WebSocket connections",
		}),
		ConnectionsByRoom: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_connections_by_room",
			Help: "Number of connections per room type",
		}, []string{"room_type"}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_messages_received_total",
			Help: "Total number of messages received from clients",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total number of messages sent to clients",
		}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctf_submissions_total",
			Help: "Flag submissions by outcome",
		}, []string{"result"}),
		SubmissionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctf_submission_duration_seconds",
			Help:    "Time to grade and record one submission",
			Buckets: prometheus.DefBuckets,
		}),
		Solves: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctf_solves_total",
			Help: "Total number of recorded solves",
		}),
		FirstBloods: factory.NewCounter(prometheus.CounterOpts{
			Name: "ctf_first_bloods_total",
			Help: "Total number of first blood solves",
		}),
		BroadcastEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctf_broadcast_events_total",
			Help: "Events delivered to broadcast sinks",
		}, []string{"sink", "status"}),
		BroadcastDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctf_broadcast_dropped_total",
			Help: "Events dropped because a sink queue was full",
		}, []string{"sink"}),
		KafkaMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages processed",
		}, []string{"topic", "status"}),
		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		}, []string{"operation", "status"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_auth_failures_total",
			Help: "Total number of authentication failures",
		}),
	}
}

func (m *Metrics) IncConnections() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) DecConnections() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Dec()
}

func (m *Metrics) IncRoomConnections(roomType string) {
	if m == nil {
		return
	}
	m.ConnectionsByRoom.WithLabelValues(roomType).Inc()
}

func (m *Metrics) DecRoomConnections(roomType string) {
	if m == nil {
		return
	}
	m.ConnectionsByRoom.WithLabelValues(roomType).Dec()
}

func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) IncSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSubmission(seconds float64) {
	if m == nil {
		return
	}
	m.SubmissionDuration.Observe(seconds)
}

func (m *Metrics) IncSolve(firstBlood bool) {
	if m == nil {
		return
	}
	m.Solves.Inc()
	if firstBlood {
		m.FirstBloods.Inc()
	}
}

func (m *Metrics) IncBroadcast(sink, status string) {
	if m == nil {
		return
	}
	m.BroadcastEvents.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) IncBroadcastDropped(sink string) {
	if m == nil {
		return
	}
	m.BroadcastDropped.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncKafkaMessage(topic, status string) {
	if m == nil {
		return
	}
	m.KafkaMessages.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) IncRedisOperation(operation, status string) {
	if m == nil {
		return
	}
	m.RedisOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncAuthFailures() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}
